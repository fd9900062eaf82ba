package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/logging"
)

// Compile-time check
var _ IngressUseCase = (*ingressUC)(nil)

// WebhookRequest is a raw inbound webhook as received by the HTTP layer.
type WebhookRequest struct {
	Gateway        string
	OrganizationID string
	Code           string
	Headers        http.Header
	Body           []byte
	DeclaredType   string
}

// IngressResult is returned once an event is verified, parsed and enqueued.
type IngressResult struct {
	EventID    string
	TaskID     string // empty when the delivery was a duplicate of an in-flight task
	Kind       model.EventKind
	ProviderID string
}

type IngressUseCase interface {
	// Receive verifies and enqueues a webhook. It never reconciles inline.
	Receive(ctx context.Context, req WebhookRequest) (*IngressResult, error)
}

type ingressUC struct {
	orgs      repository.OrganizationRepository
	providers repository.PaymentProviderRepository
	gateways  adapter.GatewayRegistry
	queue     adapter.TaskQueue
	log       *zerolog.Logger
}

func NewIngressUseCase(orgs repository.OrganizationRepository, providers repository.PaymentProviderRepository, gateways adapter.GatewayRegistry, queue adapter.TaskQueue, logger *zerolog.Logger) *ingressUC {
	return &ingressUC{orgs: orgs, providers: providers, gateways: gateways, queue: queue, log: logger}
}

func (u *ingressUC) Receive(ctx context.Context, req WebhookRequest) (*IngressResult, error) {
	defer logging.TraceDuration(u.log, "IngressUC.Receive")()

	kind, ok := model.ParseGatewayKind(req.Gateway)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownGateway, req.Gateway)
	}
	gw, err := u.gateways.Gateway(kind)
	if err != nil {
		return nil, err
	}

	if _, err := u.orgs.FindByID(ctx, repository.NoTX, req.OrganizationID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}

	provider, err := u.providers.FindByCode(ctx, repository.NoTX, req.OrganizationID, req.Code, kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}

	if !gw.Verify(req.Headers, req.Body, provider.WebhookSecret) {
		return nil, domain.ErrWebhookVerification
	}

	ev, err := gw.ParseEvent(req.Body, req.DeclaredType)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	ev.ID = uuid.NewString()
	ev.OrganizationID = provider.OrganizationID
	ev.ProviderID = provider.ID
	ev.Gateway = kind
	ev.ReceivedAt = time.Now().UTC()

	taskID, err := u.queue.Enqueue(ctx, adapter.TaskWebhookEvent, ev, deliveryKey(provider.ID, req.Body))
	if err != nil {
		return nil, fmt.Errorf("enqueue webhook event: %w", err)
	}

	logging.With(ctx, u.log).Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("provider_id", provider.ID).
		Str("task_id", taskID).
		Msg("webhook accepted")

	return &IngressResult{EventID: ev.ID, TaskID: taskID, Kind: ev.Kind, ProviderID: provider.ID}, nil
}

// deliveryKey collapses byte-identical redeliveries of the same webhook.
func deliveryKey(providerID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(providerID))
	h.Write(body)
	return "webhook:" + hex.EncodeToString(h.Sum(nil))
}
