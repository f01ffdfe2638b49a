package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/merced/commerce-core/internal/config"
	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/payment"
	"github.com/merced/commerce-core/internal/pricing"
	"github.com/merced/commerce-core/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}
	defer db.Close()

	log.Info("connected to database")

	app := &app{
		db:      db,
		rules:   pricing.Rules{TaxRate: cfg.Pricing.TaxRate, ShippingFee: cfg.Pricing.ShippingFee, FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold},
		country: cfg.Pricing.DefaultCountry,
		gateway: payment.StubGateway{},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /users", app.createUser)
	mux.HandleFunc("GET /users/{id}", app.getUser)

	mux.HandleFunc("POST /products", app.createProduct)
	mux.HandleFunc("GET /products", app.listProducts)
	mux.HandleFunc("GET /products/{id}", app.getProduct)
	mux.HandleFunc("POST /products/{id}/restock", app.restock)

	mux.HandleFunc("POST /cart/items", app.addCartItem)
	mux.HandleFunc("GET /cart", app.getCart)

	mux.HandleFunc("POST /orders", app.createOrder)
	mux.HandleFunc("GET /orders", app.listOrders)
	mux.HandleFunc("GET /orders/{id}", app.getOrder)
	mux.HandleFunc("PUT /orders/{id}", app.updateOrderStatus)
	mux.HandleFunc("PUT /orders/{id}/cancel", app.cancelOrder)

	mux.HandleFunc("POST /coupons", app.createCoupon)
	mux.HandleFunc("POST /coupons/validate", app.validateCoupon)
	mux.HandleFunc("POST /coupons/apply", app.applyCoupon)

	mux.HandleFunc("POST /orders/{id}/payments", app.initiatePayment)
	mux.HandleFunc("POST /payments/{id}/refund", app.refundPayment)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.WithField("port", cfg.Server.Port).Info("server starting")
	if err := server.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

type app struct {
	db      *sql.DB
	rules   pricing.Rules
	country string
	gateway payment.Gateway
}

func (a *app) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string      `json:"email"`
		Name  string      `json:"name"`
		Role  models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleCustomer
	}

	user, err := store.CreateUser(r.Context(), a.db, req.Email, req.Name, req.Role)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (a *app) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := store.GetUser(r.Context(), a.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (a *app) createProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU         string `json:"sku"`
		Name        string `json:"name"`
		Description string `json:"description"`
		VendorID    int64  `json:"vendor_id"`
		Stock       int    `json:"stock"`
		ReorderAt   int    `json:"reorder_at"`
		Prices      []struct {
			Country        string  `json:"country"`
			Currency       string  `json:"currency"`
			ActualPrice    float64 `json:"actual_price"`
			DiscountAmount float64 `json:"discount_amount"`
		} `json:"prices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	create := store.CreateProductRequest{
		SKU:          req.SKU,
		Name:         req.Name,
		Description:  req.Description,
		VendorID:     req.VendorID,
		Stock:        req.Stock,
		ReorderLevel: req.ReorderAt,
	}
	for _, p := range req.Prices {
		create.Prices = append(create.Prices, store.ProductPriceRequest{
			Country:        p.Country,
			Currency:       p.Currency,
			ActualPrice:    decimal.NewFromFloat(p.ActualPrice),
			DiscountAmount: decimal.NewFromFloat(p.DiscountAmount),
		})
	}

	product, err := store.CreateProduct(r.Context(), a.db, create)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (a *app) listProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListProducts(r.Context(), a.db, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *app) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := store.GetProduct(r.Context(), a.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (a *app) restock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inv, err := store.Restock(r.Context(), a.db, id, req.Quantity)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

func (a *app) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    int64  `json:"user_id"`
		ProductID int64  `json:"product_id"`
		Variant   string `json:"variant"`
		Quantity  int    `json:"quantity"`
		Country   string `json:"country"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Country == "" {
		req.Country = a.country
	}

	item, err := store.AddCartItem(r.Context(), a.db, a.country, store.AddCartItemRequest{
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Variant:   req.Variant,
		Quantity:  req.Quantity,
		Country:   req.Country,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (a *app) getCart(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	items, err := store.GetCartItems(r.Context(), a.db, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (a *app) createOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID            int64  `json:"user_id"`
		ShippingAddressID int64  `json:"shipping_address_id"`
		BillingAddressID  *int64 `json:"billing_address_id"`
		PaymentMethod     string `json:"payment_method"`
		Notes             string `json:"notes"`
		CouponCode        string `json:"coupon_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := store.CreateOrder(r.Context(), a.db, a.rules, store.CreateOrderRequest{
		UserID:            req.UserID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		PaymentMethod:     req.PaymentMethod,
		Notes:             req.Notes,
		CouponCode:        req.CouponCode,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (a *app) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), a.db, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *app) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := store.GetOrder(r.Context(), a.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// updateOrderStatus requires the acting user in X-User-ID; the user's
// stored role and, for vendors, order ownership gate the transition.
func (a *app) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actorID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing actor")
		return
	}
	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor, err := store.GetUser(r.Context(), a.db, actorID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), a.db, id, actor, req.Status)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (a *app) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actorID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing actor")
		return
	}

	order, err := store.CancelOrder(r.Context(), a.db, id, actorID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (a *app) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req store.CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	coupon, err := store.CreateCoupon(r.Context(), a.db, req)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, coupon)
}

func (a *app) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string  `json:"code"`
		OrderAmount float64 `json:"order_amount"`
		ProductIDs  []int64 `json:"product_ids"`
		UserID      int64   `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	validation, err := store.ValidateCoupon(r.Context(), a.db, req.Code,
		decimal.NewFromFloat(req.OrderAmount), req.ProductIDs, req.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"is_valid":        true,
		"discount_amount": validation.DiscountAmount,
		"final_amount":    validation.FinalAmount,
	})
}

func (a *app) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code    string `json:"code"`
		OrderID int64  `json:"order_id"`
		UserID  int64  `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := store.ApplyCoupon(r.Context(), a.db, req.Code, req.OrderID, req.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"discount_amount": result.DiscountAmount,
		"final_amount":    result.FinalAmount,
	})
}

// initiatePayment opens the attempt, calls the gateway outside any
// transaction, then confirms in a second transaction linked by payment id.
func (a *app) initiatePayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Method   string `json:"method"`
		Gateway  string `json:"gateway"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	p, err := store.InitiatePayment(r.Context(), a.db, orderID, req.Method, req.Gateway, req.Currency)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	result, err := a.gateway.Charge(r.Context(), p.Amount, p.Currency, p.Method)
	if err != nil {
		respondError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}

	p, err = store.ConfirmPayment(r.Context(), a.db, p.ID, result)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (a *app) refundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := store.RefundPayment(r.Context(), a.db, paymentID, decimal.NewFromFloat(req.Amount))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if _, err := a.gateway.Refund(r.Context(), p.TransactionID, p.RefundAmount); err != nil {
		log.WithError(err).WithField("payment_id", p.ID).Warn("gateway refund call failed, record kept")
	}
	respondJSON(w, http.StatusOK, p)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

var notFoundErrors = []error{
	database.ErrUserNotFound,
	database.ErrProductNotFound,
	database.ErrOrderNotFound,
	database.ErrInventoryNotFound,
	database.ErrCouponNotFound,
	database.ErrPaymentNotFound,
	database.ErrShippingNotFound,
	database.ErrCartItemNotFound,
}

var conflictErrors = []error{
	database.ErrEmptyCart,
	database.ErrProductUnavailable,
	database.ErrInsufficientStock,
	database.ErrCouponInactive,
	database.ErrCouponUsageExceeded,
	database.ErrMinimumOrderNotMet,
	database.ErrCouponNotApplicable,
	database.ErrUserCouponLimitExceeded,
	database.ErrInvalidStatusTransition,
	database.ErrOrderNotCancellable,
	database.ErrOrderNotRefundable,
	database.ErrPaymentAlreadySettled,
	database.ErrRefundExceedsPayment,
}

// respondStoreError maps the error taxonomy onto HTTP statuses. Internal
// details never leak; unknown errors surface as a generic 500.
func respondStoreError(w http.ResponseWriter, err error) {
	for _, sentinel := range notFoundErrors {
		if errors.Is(err, sentinel) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	for _, sentinel := range conflictErrors {
		if errors.Is(err, sentinel) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
	}
	if errors.Is(err, database.ErrForbidden) {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	log.WithError(err).Error("internal error")
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "message": message})
}
