package billing

import (
	"context"
	"strings"
	"time"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"
	"billing-app/internal/domain/plans"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Caller is the authenticated identity behind a user-initiated request.
type Caller struct {
	ID    string
	Email string
}

// Options wires a Service. Provider may be nil when Stripe is not configured;
// operations then fail with failed-precondition instead of panicking.
type Options struct {
	Accounts accounts.Repository
	Provider billing.Provider
	Catalog  plans.Catalog
	Mailer   Mailer
	Logger   *zap.Logger
	AppURL   string
	Now      func() time.Time
}

// Service orchestrates the account record against Stripe for user requests,
// payment confirmations and webhook events. It holds no per-account state;
// every call reads the record, talks to Stripe and writes derived fields back.
type Service struct {
	accounts accounts.Repository
	provider billing.Provider
	catalog  plans.Catalog
	mailer   Mailer
	log      *zap.Logger
	appURL   string
	now      func() time.Time
}

func New(opts Options) *Service {
	s := &Service{
		accounts: opts.Accounts,
		provider: opts.Provider,
		catalog:  opts.Catalog,
		mailer:   opts.Mailer,
		log:      opts.Logger,
		appURL:   strings.TrimRight(opts.AppURL, "/"),
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.appURL == "" {
		s.appURL = "http://localhost:5173"
	}
	return s
}

func (s *Service) stripe() (billing.Provider, error) {
	if s.provider == nil {
		return nil, billing.FailedPrecondition("Stripe is not configured (STRIPE_SECRET_KEY missing)")
	}
	return s.provider, nil
}

func (s *Service) resolve(ctx context.Context, caller Caller) (accounts.Ref, *accounts.Account, error) {
	if strings.TrimSpace(caller.ID) == "" {
		return accounts.Ref{}, nil, billing.Unauthenticated("caller not identified")
	}
	ref, acct, err := s.accounts.Resolve(ctx, caller.ID)
	if err != nil {
		return accounts.Ref{}, nil, billing.Internal("account store unavailable", err)
	}
	return ref, acct, nil
}

// loadCustomer resolves the caller and requires a linked Stripe customer.
func (s *Service) loadCustomer(ctx context.Context, caller Caller) (accounts.Ref, *accounts.Account, billing.Provider, error) {
	p, err := s.stripe()
	if err != nil {
		return accounts.Ref{}, nil, nil, err
	}
	ref, acct, err := s.resolve(ctx, caller)
	if err != nil {
		return accounts.Ref{}, nil, nil, err
	}
	if acct.CustomerID() == "" {
		return accounts.Ref{}, nil, nil, billing.FailedPrecondition("no Stripe customer yet (subscribe first)")
	}
	return ref, acct, p, nil
}

// loadSubscribed additionally requires a linked subscription.
func (s *Service) loadSubscribed(ctx context.Context, caller Caller) (accounts.Ref, *accounts.Account, billing.Provider, error) {
	ref, acct, p, err := s.loadCustomer(ctx, caller)
	if err != nil {
		return accounts.Ref{}, nil, nil, err
	}
	if acct.SubscriptionID() == "" {
		return accounts.Ref{}, nil, nil, billing.FailedPrecondition("no subscription linked to this account")
	}
	return ref, acct, p, nil
}

// ensureCustomer lazily creates the Stripe customer and the account record.
func (s *Service) ensureCustomer(ctx context.Context, p billing.Provider, ref accounts.Ref, acct *accounts.Account, caller Caller) (string, error) {
	if id := acct.CustomerID(); id != "" {
		return id, nil
	}

	email := caller.Email
	if email == "" && acct != nil {
		email = acct.Email
	}
	customerID, err := p.CreateCustomer(ctx, billing.CustomerParams{
		Email:    email,
		Metadata: accountMetadata(ref),
	})
	if err != nil {
		return "", err
	}

	fields := map[string]interface{}{accounts.FieldProviderCustomerID: customerID}
	if email != "" {
		fields[accounts.FieldEmail] = email
	}
	if err := s.accounts.Update(ctx, ref, fields); err != nil {
		return "", billing.Internal("failed to store Stripe customer", err)
	}
	s.log.Info("stripe customer created",
		zap.String("account", ref.String()),
		zap.String("customer_id", customerID),
	)
	return customerID, nil
}

func (s *Service) priceFor(plan string) (string, string, error) {
	p, err := plans.Normalize(plan)
	if err != nil {
		return "", "", billing.InvalidArgument("plan must be %q or %q", plans.Month, plans.Year)
	}
	priceID, err := s.catalog.PriceID(p)
	if err != nil {
		return "", "", billing.FailedPrecondition("plan %s is not configured", p)
	}
	return p, priceID, nil
}

func accountMetadata(ref accounts.Ref) map[string]string {
	return map[string]string{
		billing.MetaAccountID:   ref.ID,
		billing.MetaAccountKind: string(ref.Kind),
	}
}

// refFromMetadata reads the account stamped on a Stripe object.
func refFromMetadata(md map[string]string) (accounts.Ref, bool) {
	id := md[billing.MetaAccountID]
	if id == "" {
		return accounts.Ref{}, false
	}
	kind := accounts.Kind(md[billing.MetaAccountKind])
	if kind != accounts.KindOrganization {
		kind = accounts.KindIndividual
	}
	return accounts.Ref{Kind: kind, ID: id}, true
}

var validate = validator.New()

// validateEmail accepts a bare address; display-name forms are rejected.
func validateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	if err := validate.Var(email, "email"); err != nil {
		return "", billing.InvalidArgument("billingEmail is not a valid email address")
	}
	return email, nil
}
