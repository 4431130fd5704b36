// Package identity resolves validated contacts to national ids and decides
// whether phone and email belong to the same person.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/contact"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/upstream"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
)

const defaultLookupTimeout = 10 * time.Second

// Directory maps contacts to national ids. An unknown contact returns
// sentinel.ErrNotFound.
type Directory interface {
	LookupByPhone(ctx context.Context, e164 string) (domain.NationalID, error)
	LookupByEmail(ctx context.Context, email string) (domain.NationalID, error)
}

// Channel names the contact an identity was resolved from.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

// Identity is one national id to enrich.
type Identity struct {
	NationalID domain.NationalID
	Channel    Channel
}

// Resolution is computed per event and never persisted. With two identities
// the phone's comes first.
type Resolution struct {
	ByPhone    domain.NationalID
	ByEmail    domain.NationalID
	SamePerson bool
	Identities []Identity
}

type Resolver struct {
	directory Directory
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Resolver)

// WithLookupTimeout bounds each directory call separately.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

func New(directory Directory, opts ...Option) *Resolver {
	r := &Resolver{
		directory: directory,
		timeout:   defaultLookupTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up phone and email concurrently. Different ids are never
// merged: both come back so each person is enriched on their own.
func (r *Resolver) Resolve(ctx context.Context, contacts contact.Contacts) (*Resolution, error) {
	if contacts.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeValidation, "no valid phone or email")
	}

	var (
		g                  errgroup.Group
		byPhone, byEmail   domain.NationalID
		phoneErr, emailErr error
	)
	if contacts.Phone != "" {
		g.Go(func() error {
			byPhone, phoneErr = r.lookup(ctx, ChannelPhone, func(ctx context.Context) (domain.NationalID, error) {
				return r.directory.LookupByPhone(ctx, contacts.Phone)
			})
			return nil
		})
	}
	if contacts.Email != "" {
		g.Go(func() error {
			byEmail, emailErr = r.lookup(ctx, ChannelEmail, func(ctx context.Context) (domain.NationalID, error) {
				return r.directory.LookupByEmail(ctx, contacts.Email)
			})
			return nil
		})
	}
	_ = g.Wait()

	res := &Resolution{ByPhone: byPhone, ByEmail: byEmail}
	switch {
	case !byPhone.IsZero() && !byEmail.IsZero() && byPhone == byEmail:
		res.SamePerson = true
		res.Identities = []Identity{{NationalID: byPhone, Channel: ChannelPhone}}
	case !byPhone.IsZero() && !byEmail.IsZero():
		r.logger.WarnContext(ctx, "phone and email belong to different people",
			"phone_id", byPhone.Masked(),
			"email_id", byEmail.Masked(),
		)
		res.Identities = []Identity{
			{NationalID: byPhone, Channel: ChannelPhone},
			{NationalID: byEmail, Channel: ChannelEmail},
		}
	case !byPhone.IsZero():
		res.Identities = []Identity{{NationalID: byPhone, Channel: ChannelPhone}}
	case !byEmail.IsZero():
		res.Identities = []Identity{{NationalID: byEmail, Channel: ChannelEmail}}
	default:
		if infraErr := errors.Join(phoneErr, emailErr); infraErr != nil {
			return nil, dErrors.Wrap(infraErr, dErrors.CodeExternalService, "identity directory unavailable")
		}
		return nil, dErrors.New(dErrors.CodeNotFound, "could not resolve national id from phone or email")
	}
	return res, nil
}

// lookup runs one directory call under its own timeout. Not-found is
// folded into a zero id; anything else is an infrastructure error.
func (r *Resolver) lookup(ctx context.Context, channel Channel, call func(context.Context) (domain.NationalID, error)) (domain.NationalID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	nid, err := call(ctx)
	if err == nil {
		return nid, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) || upstream.IsNotFound(err) {
		r.logger.InfoContext(ctx, "no identity for contact", "channel", channel)
		return domain.NationalID{}, nil
	}
	r.logger.WarnContext(ctx, "directory lookup failed",
		"channel", channel,
		"category", upstream.CategoryOf(err),
		"error", err,
	)
	return domain.NationalID{}, err
}
