package handler

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticket-rush/internal/admission"
    "github.com/iliyamo/ticket-rush/internal/middleware"
)

// Admission is the waiting room as seen by HTTP; *admission.Controller
// implements it.
type Admission interface {
    Enqueue(ctx context.Context, eventID, clientKey string) (admission.Ticket, error)
    Status(ctx context.Context, eventID, clientKey string) (admission.Status, error)
    ValidatePass(ctx context.Context, eventID, clientKey, token string) bool
    Reset(ctx context.Context, eventID string) (int, error)
}

// QueueHandler serves the waiting-room endpoints.  The client key is always
// the authenticated user id, never something taken from the request.
type QueueHandler struct {
    Admission Admission
}

func NewQueueHandler(a Admission) *QueueHandler {
    if a == nil {
        panic("nil admission passed to NewQueueHandler")
    }
    return &QueueHandler{Admission: a}
}

type enqueueResponse struct {
    UserKey              string          `json:"userKey"`
    Position             int64           `json:"position"`
    EstimatedWaitSeconds int             `json:"estimatedWaitSeconds"`
    State                admission.State `json:"state"`
}

type statusResponse struct {
    Position   int64           `json:"position"`
    CanProceed bool            `json:"canProceed"`
    PassToken  string          `json:"passToken,omitempty"`
    State      admission.State `json:"state"`
}

// Enqueue handles POST /queue/:eventId/enqueue.
func (h *QueueHandler) Enqueue(c echo.Context) error {
    client := middleware.ClientKey(c)
    if client == "" {
        return respondError(c, errUnauthorized)
    }
    t, err := h.Admission.Enqueue(c.Request().Context(), c.Param("eventId"), client)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, enqueueResponse{
        UserKey:              t.ClientKey,
        Position:             t.Position,
        EstimatedWaitSeconds: t.EstimatedWaitSeconds,
        State:                t.State,
    })
}

// Status handles GET /queue/:eventId/status.  Clients poll it; the poll is
// what admits the head of the queue.
func (h *QueueHandler) Status(c echo.Context) error {
    client := middleware.ClientKey(c)
    if client == "" {
        return respondError(c, errUnauthorized)
    }
    s, err := h.Admission.Status(c.Request().Context(), c.Param("eventId"), client)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, statusResponse{
        Position:   s.Position,
        CanProceed: s.CanProceed,
        PassToken:  s.PassToken,
        State:      s.State,
    })
}

type validateRequest struct {
    ClientKey string `json:"clientKey"`
    PassToken string `json:"passToken"`
}

// ValidatePassToken handles POST /queue/:eventId/validate-pass-token for
// other services.  It answers a bare JSON boolean and consumes the pass on
// success.
func (h *QueueHandler) ValidatePassToken(c echo.Context) error {
    var body validateRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    ok := h.Admission.ValidatePass(c.Request().Context(), c.Param("eventId"), body.ClientKey, body.PassToken)
    return c.JSON(http.StatusOK, ok)
}

// Reset handles DELETE /queue/:eventId (admin).
func (h *QueueHandler) Reset(c echo.Context) error {
    eventID := c.Param("eventId")
    n, err := h.Admission.Reset(c.Request().Context(), eventID)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"eventId": eventID, "removedKeys": n})
}
