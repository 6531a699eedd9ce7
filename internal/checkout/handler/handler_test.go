package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ticketeer/internal/checkout/models"
	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
	"ticketeer/pkg/testutil"
)

type stubOrders struct {
	lastCheckout models.CheckoutRequest
	lastReason   string
	order        *models.Order
	err          error
}

func (s *stubOrders) Checkout(_ context.Context, req models.CheckoutRequest) (*models.Order, error) {
	s.lastCheckout = req
	return s.order, s.err
}

func (s *stubOrders) Cancel(context.Context, id.OrderID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrders) Refund(_ context.Context, _ id.OrderID, reason string) (*models.Order, error) {
	s.lastReason = reason
	return s.order, s.err
}

func (s *stubOrders) GetOrder(context.Context, id.OrderID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrders) ListMine(context.Context) ([]*models.Order, error) {
	return []*models.Order{s.order}, s.err
}

func (s *stubOrders) ListByEvent(context.Context, id.EventID) ([]*models.Order, error) {
	return []*models.Order{s.order}, s.err
}

type HandlerSuite struct {
	suite.Suite
	orders *stubOrders
	router chi.Router
	buyer  requestcontext.Actor
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s.buyer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee, Email: "buyer@example.com"}
	s.orders = &stubOrders{order: &models.Order{
		ID:        id.NewOrderID(),
		Reference: "TKT-ABCDEF0123",
		Status:    models.StatusAwaitingPayment,
	}}
	h := New(s.orders, logger)
	s.router = chi.NewRouter()
	h.Register(s.router)
	h.RegisterOrganizer(s.router)
}

func (s *HandlerSuite) do(req *http.Request) int {
	return testutil.DoRequest(s.router, testutil.WithActor(req, s.buyer)).Code
}

func (s *HandlerSuite) TestCheckoutMapsRequest() {
	eventID := id.NewEventID()
	typeID := id.NewTicketTypeID()
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/checkout", map[string]any{
		"event_id":       eventID.String(),
		"items":          []map[string]any{{"ticket_type_id": typeID.String(), "quantity": 2}},
		"provider":       "asaas",
		"method":         "pix",
		"buyer_document": "123.456.789-09",
	})
	req.Header.Set("Idempotency-Key", "cart-1")

	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.buyer))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	testutil.AssertJSONContains(s.T(), rr, "reference", "TKT-ABCDEF0123")

	got := s.orders.lastCheckout
	s.Equal(eventID, got.EventID)
	s.Equal(payments.ProviderAsaas, got.Provider)
	s.Equal(payments.MethodPix, got.Method)
	s.Equal("12345678909", got.Buyer.Document)
	s.Equal("cart-1", got.IdempotencyKey)
	s.Require().Len(got.Items, 1)
	s.Equal(2, got.Items[0].Quantity)
}

func (s *HandlerSuite) TestCheckoutRejectsBadInput() {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing event", map[string]any{"items": []map[string]any{{"quantity": 1}}}},
		{"no items", map[string]any{"event_id": id.NewEventID().String()}},
		{"unknown provider", map[string]any{
			"event_id": id.NewEventID().String(),
			"items":    []map[string]any{{"ticket_type_id": id.NewTicketTypeID().String(), "quantity": 1}},
			"provider": "paypal",
		}},
		{"unknown method", map[string]any{
			"event_id": id.NewEventID().String(),
			"items":    []map[string]any{{"ticket_type_id": id.NewTicketTypeID().String(), "quantity": 1}},
			"method":   "cheque",
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			code := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/checkout", tc.body))
			s.Equal(http.StatusBadRequest, code)
		})
	}
}

func (s *HandlerSuite) TestServiceErrorsMapToStatus() {
	s.orders.err = dErrors.New(dErrors.CodeConflict, "only 1 ticket left")
	rr := testutil.DoRequest(s.router, testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/checkout", map[string]any{
		"event_id": id.NewEventID().String(),
		"items":    []map[string]any{{"ticket_type_id": id.NewTicketTypeID().String(), "quantity": 1}},
	}), s.buyer))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")

	s.orders.err = dErrors.New(dErrors.CodeNotFound, "order not found")
	code := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/orders/"+id.NewOrderID().String()))
	s.Equal(http.StatusNotFound, code)
}

func (s *HandlerSuite) TestOrderRoutes() {
	orderID := s.orders.order.ID.String()
	s.Equal(http.StatusOK, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/orders")))
	s.Equal(http.StatusOK, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/orders/"+orderID)))
	s.Equal(http.StatusOK, s.do(testutil.NewRequest(s.T(), http.MethodPost, "/orders/"+orderID+"/cancel")))
	s.Equal(http.StatusOK, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/events/"+id.NewEventID().String()+"/orders")))
	s.Equal(http.StatusBadRequest, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/orders/not-an-id")))
}

func (s *HandlerSuite) TestRefundCarriesReason() {
	orderID := s.orders.order.ID.String()
	code := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/orders/"+orderID+"/refund", map[string]any{"reason": "  event moved  "}))
	s.Equal(http.StatusOK, code)
	s.Equal("event moved", s.orders.lastReason)

	code = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/orders/"+orderID+"/refund"))
	s.Equal(http.StatusOK, code)
	s.Equal("", s.orders.lastReason)
}
