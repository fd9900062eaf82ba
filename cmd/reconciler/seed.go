package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/spf13/cobra"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
	pg "gateway-reconciler/internal/infra/db/postgres"
)

type seedOptions struct {
	gateway     string
	code        string
	apiKey      string
	secret      string
	amountCents int64
	currency    string
}

// seedCmd writes one organization with a provider, a chargeable customer and an open
// subscription invoice, for local end-to-end runs against a gateway sandbox.
func seedCmd(opts *rootOptions) *cobra.Command {
	so := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo data for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := model.ParseGatewayKind(so.gateway)
			if !ok {
				return fmt.Errorf("unknown gateway %q", so.gateway)
			}
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := pg.Connect(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()
			cipher, err := newCipher(cfg, logger)
			if err != nil {
				return err
			}

			orgs := pg.NewOrganizationRepo(pool)
			providers := pg.NewProviderRepo(pool, cipher)
			customers := pg.NewCustomerRepo(pool)
			pcs := pg.NewProviderCustomerRepo(pool)
			payables := pg.NewPayableRepo(pool)

			org := &model.Organization{ID: uuid.NewString(), Name: "Demo Org"}
			provider := &model.PaymentProvider{
				ID:             uuid.NewString(),
				OrganizationID: org.ID,
				Code:           so.code,
				Name:           "Demo " + string(kind),
				Gateway:        kind,
				APIKey:         so.apiKey,
				WebhookSecret:  so.secret,
				Environment:    model.EnvironmentTest,
			}
			customer := &model.Customer{
				ID:                  uuid.NewString(),
				OrganizationID:      org.ID,
				ExternalID:          "demo-customer",
				CustomerType:        "individual",
				FirstName:           "Demo",
				LastName:            "Customer",
				Email:               "demo@example.com",
				PaymentProvider:     kind,
				PaymentProviderCode: so.code,
			}
			pc := &model.PaymentProviderCustomer{
				ID:                 uuid.NewString(),
				CustomerID:         customer.ID,
				PaymentProviderID:  provider.ID,
				Gateway:            kind,
				ProviderCustomerID: "demo-" + string(kind) + "-customer",
				PaymentMethodID:    "demo-card-token",
			}
			invoice := &model.Invoice{
				ID:                        uuid.NewString(),
				OrganizationID:            org.ID,
				CustomerID:                customer.ID,
				InvoiceType:               model.InvoiceTypeSubscription,
				TotalAmountCents:          so.amountCents,
				Currency:                  so.currency,
				PaymentStatus:             model.StatusPending,
				ReadyForPaymentProcessing: true,
				SubscriptionExternalID:    "demo-subscription",
				UpdatedAt:                 time.Now().UTC(),
			}

			tm := pg.NewTxManager(pool)
			err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
				if err := orgs.Save(ctx, tx, org); err != nil {
					return fmt.Errorf("organization: %w", err)
				}
				if err := providers.Save(ctx, tx, provider); err != nil {
					return fmt.Errorf("provider: %w", err)
				}
				if err := customers.Save(ctx, tx, customer); err != nil {
					return fmt.Errorf("customer: %w", err)
				}
				if err := pcs.Save(ctx, tx, pc); err != nil {
					return fmt.Errorf("provider customer: %w", err)
				}
				if err := payables.CreateInvoice(ctx, tx, invoice); err != nil {
					return fmt.Errorf("invoice: %w", err)
				}
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "organization_id=%s\n", org.ID)
			fmt.Fprintf(out, "provider_id=%s\n", provider.ID)
			fmt.Fprintf(out, "customer_id=%s\n", customer.ID)
			fmt.Fprintf(out, "invoice_id=%s\n", invoice.ID)
			fmt.Fprintf(out, "webhook_url=%s\n", provider.WebhookEndpoint(cfg.HTTP.PublicURL))
			return nil
		},
	}
	cmd.Flags().StringVar(&so.gateway, "gateway", string(model.GatewayMoneyhash), "gateway kind: moneyhash, zarinpal or chapa")
	cmd.Flags().StringVar(&so.code, "code", "default", "provider code")
	cmd.Flags().StringVar(&so.apiKey, "api-key", "sandbox-api-key", "gateway API key or merchant id")
	cmd.Flags().StringVar(&so.secret, "webhook-secret", "sandbox-webhook-secret", "webhook signing secret")
	cmd.Flags().Int64Var(&so.amountCents, "amount", 1000, "invoice amount in cents")
	cmd.Flags().StringVar(&so.currency, "currency", "USD", "invoice currency")
	return cmd
}
