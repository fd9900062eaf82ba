// Package apiv1 is the admin API: manual charges, payment history and dead-letter inspection.
package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/logging"
)

// DeadLetters lists tasks that exhausted their retries.
type DeadLetters interface {
	DeadTasks(ctx context.Context, limit int64) ([]*adapter.Task, error)
}

type Server struct {
	queue    adapter.TaskQueue
	payables repository.PayableRepository
	payments repository.PaymentRepository
	dead     DeadLetters
	log      *zerolog.Logger
}

func NewServer(queue adapter.TaskQueue, payables repository.PayableRepository, payments repository.PaymentRepository, dead DeadLetters, logger *zerolog.Logger) *Server {
	return &Server{queue: queue, payables: payables, payments: payments, dead: dead, log: logger}
}

// RegisterAPIV1 mounts the admin routes on r. Authentication is the caller's concern.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Post("/api/v1/payables/{type}/{id}/charge", s.chargePayable)
	r.Get("/api/v1/payables/{type}/{id}/payments", s.listPayments)
	r.Post("/api/v1/customers/{id}/providers/{gateway}", s.createProviderCustomer)
	if s.dead != nil {
		r.Get("/api/v1/tasks/dead", s.listDeadTasks)
	}
}

type Accepted struct {
	TaskID       string `json:"task_id"`
	Deduplicated bool   `json:"deduplicated"`
}

type Payment struct {
	ID                string    `json:"id"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	Amount            int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	PayableStatus     string    `json:"payable_payment_status"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type DeadTask struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Attempt    int             `json:"attempt"`
	LastError  string          `json:"last_error"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *Server) payableRef(w http.ResponseWriter, r *http.Request) (model.PayableRef, bool) {
	ref, err := model.NewPayableRef(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "payable type must be Invoice or PaymentRequest")
		return model.PayableRef{}, false
	}
	return ref, true
}

func (s *Server) chargePayable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := s.payableRef(w, r)
	if !ok {
		return
	}
	p, err := s.payables.Find(ctx, repository.NoTX, ref)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if p.Status() == model.StatusSucceeded {
		writeError(w, http.StatusConflict, domain.ErrPayableAlreadySucceeded.Error())
		return
	}
	taskID, err := s.queue.Enqueue(ctx, adapter.TaskPaymentCharge, adapter.ChargeTaskPayload{
		PayableType: string(ref.Type),
		PayableID:   ref.ID,
	}, "charge:"+ref.String())
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Str("payable", ref.String()).Msg("enqueue charge")
		writeError(w, http.StatusInternalServerError, "failed to schedule charge")
		return
	}
	writeJSON(w, http.StatusAccepted, Accepted{TaskID: taskID, Deduplicated: taskID == ""})
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := s.payableRef(w, r)
	if !ok {
		return
	}
	items, err := s.payments.ListByPayable(ctx, repository.NoTX, ref)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	out := make([]Payment, 0, len(items))
	for _, p := range items {
		out = append(out, Payment{
			ID:                p.ID,
			ProviderPaymentID: p.ProviderPaymentID,
			Amount:            p.Amount,
			Currency:          p.Currency,
			Status:            p.Status,
			PayableStatus:     string(p.PayableStatus),
			ErrorCode:         p.ErrorCode,
			ErrorMessage:      p.ErrorMessage,
			CreatedAt:         p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) createProviderCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := model.ParseGatewayKind(chi.URLParam(r, "gateway"))
	if !ok {
		writeError(w, http.StatusBadRequest, domain.ErrUnknownGateway.Error())
		return
	}
	customerID := chi.URLParam(r, "id")
	taskID, err := s.queue.Enqueue(ctx, adapter.TaskProviderCustomerCreate, adapter.ProviderCustomerTaskPayload{
		CustomerID: customerID,
		Gateway:    string(kind),
	}, "provider_customer:"+customerID+":"+string(kind))
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Str("customer_id", customerID).Msg("enqueue provider customer")
		writeError(w, http.StatusInternalServerError, "failed to schedule provider customer")
		return
	}
	writeJSON(w, http.StatusAccepted, Accepted{TaskID: taskID, Deduplicated: taskID == ""})
}

func (s *Server) listDeadTasks(w http.ResponseWriter, r *http.Request) {
	limit := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	tasks, err := s.dead.DeadTasks(r.Context(), limit)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	out := make([]DeadTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, DeadTask{ID: t.ID, Kind: string(t.Kind), Attempt: t.Attempt, LastError: t.LastError, EnqueuedAt: t.EnqueuedAt, Payload: t.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPayableNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("admin api")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
