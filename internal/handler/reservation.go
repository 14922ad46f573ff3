package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticket-rush/internal/middleware"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

// Reservations is what the handler needs from the saga orchestrator.
type Reservations interface {
    StartSaga(ctx context.Context, userID, productID uint64, quantity int) (*model.Reservation, error)
    Get(ctx context.Context, id uint64) (*model.Reservation, error)
    GetBySagaID(ctx context.Context, sagaID string) (*model.Reservation, error)
    ListByUser(ctx context.Context, userID uint64) ([]*model.Reservation, error)
    ListStale(ctx context.Context, olderThan time.Duration) ([]*model.Reservation, error)
    Confirm(ctx context.Context, id uint64) (*model.Reservation, error)
    Cancel(ctx context.Context, id uint64) (*model.Reservation, error)
}

// ReservationHandler exposes purchases.  Create sits behind
// RequirePassToken so a saga only starts for an admitted user.
type ReservationHandler struct {
    Saga Reservations
}

func NewReservationHandler(s Reservations) *ReservationHandler {
    if s == nil {
        panic("nil orchestrator passed to NewReservationHandler")
    }
    return &ReservationHandler{Saga: s}
}

const defaultStaleAge = 15 * time.Minute

type reservationResponse struct {
    ID          uint64                  `json:"id"`
    SagaID      string                  `json:"sagaId"`
    UserID      uint64                  `json:"userId"`
    ProductID   uint64                  `json:"productId"`
    ProductName string                  `json:"productName,omitempty"`
    Quantity    int                     `json:"quantity"`
    TotalPrice  string                  `json:"totalPrice"`
    Status      model.ReservationStatus `json:"status"`
    CreatedAt   time.Time               `json:"createdAt"`
}

func toResponse(r *model.Reservation) reservationResponse {
    return reservationResponse{
        ID:          r.ID,
        SagaID:      r.SagaID,
        UserID:      r.UserID,
        ProductID:   r.ProductID,
        ProductName: r.ProductName,
        Quantity:    r.Quantity,
        TotalPrice:  r.TotalPrice.StringFixed(2),
        Status:      r.Status,
        CreatedAt:   r.CreatedAt,
    }
}

type createReservationRequest struct {
    ProductID uint64 `json:"productId"`
    Quantity  int    `json:"quantity"`
}

// Create handles POST /reservations.  The pass token was already consumed
// by middleware; a failure here does not give it back.
func (h *ReservationHandler) Create(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return respondError(c, err)
    }
    var body createReservationRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.ProductID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "productId is required"})
    }
    res, err := h.Saga.StartSaga(c.Request().Context(), userID, body.ProductID, body.Quantity)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, toResponse(res))
}

// Get handles GET /reservations/:id.  Only the owner or an admin may read it.
func (h *ReservationHandler) Get(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return respondError(c, err)
    }
    id, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    res, err := h.Saga.Get(c.Request().Context(), id)
    if err != nil {
        return respondError(c, err)
    }
    if res.UserID != userID && !middleware.IsAdmin(c) {
        return respondError(c, repository.ErrForbidden)
    }
    return c.JSON(http.StatusOK, toResponse(res))
}

// ListMine handles GET /reservations/my.
func (h *ReservationHandler) ListMine(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return respondError(c, err)
    }
    list, err := h.Saga.ListByUser(c.Request().Context(), userID)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, toResponses(list))
}

// ListStale handles GET /reservations/stale?olderThan=15m (admin).  It lists
// sagas still waiting on payment so an operator can settle them by hand.
func (h *ReservationHandler) ListStale(c echo.Context) error {
    olderThan := defaultStaleAge
    if v := c.QueryParam("olderThan"); v != "" {
        d, err := time.ParseDuration(v)
        if err != nil || d <= 0 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "olderThan must be a positive duration"})
        }
        olderThan = d
    }
    list, err := h.Saga.ListStale(c.Request().Context(), olderThan)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, toResponses(list))
}

func toResponses(list []*model.Reservation) []reservationResponse {
    out := make([]reservationResponse, 0, len(list))
    for _, r := range list {
        out = append(out, toResponse(r))
    }
    return out
}

// GetBySaga handles GET /reservations/saga/:sagaId (admin).
func (h *ReservationHandler) GetBySaga(c echo.Context) error {
    res, err := h.Saga.GetBySagaID(c.Request().Context(), c.Param("sagaId"))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, toResponse(res))
}

// Confirm handles PUT /reservations/:id/confirm (admin override).
func (h *ReservationHandler) Confirm(c echo.Context) error {
    return h.override(c, h.Saga.Confirm)
}

// Cancel handles PUT /reservations/:id/cancel (admin override); stock is
// returned when the reservation was still holding it.
func (h *ReservationHandler) Cancel(c echo.Context) error {
    return h.override(c, h.Saga.Cancel)
}

func (h *ReservationHandler) override(c echo.Context, fn func(context.Context, uint64) (*model.Reservation, error)) error {
    id, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    res, err := fn(c.Request().Context(), id)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, toResponse(res))
}
