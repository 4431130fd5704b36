package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/contact"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/identity/mocks"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/upstream"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/testutil"
)

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks Directory

var (
	cpfA = domain.MustNationalID("12345678909")
	cpfB = domain.MustNationalID("98765432100")

	both = contact.Contacts{Phone: "+5511987654321", Email: "a@b.com"}
)

func newResolver(t *testing.T) (*Resolver, *mocks.MockDirectory) {
	t.Helper()
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	return New(dir,
		WithLookupTimeout(time.Second),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	), dir
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	testutil.Given(t, "phone and email resolve to the same id", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), both.Phone).Return(cpfA, nil)
		dir.EXPECT().LookupByEmail(gomock.Any(), both.Email).Return(cpfA, nil)

		res, err := r.Resolve(ctx, both)
		require.NoError(t, err)
		assert.True(t, res.SamePerson)
		assert.Equal(t, []Identity{{NationalID: cpfA, Channel: ChannelPhone}}, res.Identities)
	})

	testutil.Given(t, "phone and email resolve to different ids", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).Return(cpfA, nil)
		dir.EXPECT().LookupByEmail(gomock.Any(), gomock.Any()).Return(cpfB, nil)

		res, err := r.Resolve(ctx, both)
		require.NoError(t, err)
		testutil.Then(t, "both identities are kept, phone first", func(t *testing.T) {
			assert.False(t, res.SamePerson)
			require.Len(t, res.Identities, 2)
			assert.Equal(t, Identity{NationalID: cpfA, Channel: ChannelPhone}, res.Identities[0])
			assert.Equal(t, Identity{NationalID: cpfB, Channel: ChannelEmail}, res.Identities[1])
		})
	})

	testutil.Given(t, "only the email resolves", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).Return(domain.NationalID{}, sentinel.ErrNotFound)
		dir.EXPECT().LookupByEmail(gomock.Any(), gomock.Any()).Return(cpfB, nil)

		res, err := r.Resolve(ctx, both)
		require.NoError(t, err)
		assert.False(t, res.SamePerson)
		assert.Equal(t, []Identity{{NationalID: cpfB, Channel: ChannelEmail}}, res.Identities)
	})

	testutil.Given(t, "one lookup fails but the other resolves", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).Return(cpfA, nil)
		dir.EXPECT().LookupByEmail(gomock.Any(), gomock.Any()).
			Return(domain.NationalID{}, upstream.New(upstream.CategoryOutage, upstream.ServiceDirectory, "503", nil))

		res, err := r.Resolve(ctx, both)
		require.NoError(t, err)
		assert.Len(t, res.Identities, 1)
	})

	testutil.Given(t, "neither resolves", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).Return(domain.NationalID{}, sentinel.ErrNotFound)
		dir.EXPECT().LookupByEmail(gomock.Any(), gomock.Any()).
			Return(domain.NationalID{}, upstream.New(upstream.CategoryNotFound, upstream.ServiceDirectory, "none", nil))

		_, err := r.Resolve(ctx, both)
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
		assert.Equal(t, "could not resolve national id from phone or email", dErrors.MessageOf(err))
	})

	testutil.Given(t, "nothing resolves and the directory is down", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).Return(domain.NationalID{}, sentinel.ErrNotFound)
		dir.EXPECT().LookupByEmail(gomock.Any(), gomock.Any()).Return(domain.NationalID{}, errors.New("dial tcp: refused"))

		_, err := r.Resolve(ctx, both)
		assert.True(t, dErrors.Is(err, dErrors.CodeExternalService))
	})

	testutil.Given(t, "only a phone", func(t *testing.T) {
		r, dir := newResolver(t)
		dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).Return(cpfA, nil)

		res, err := r.Resolve(ctx, contact.Contacts{Phone: both.Phone})
		require.NoError(t, err)
		assert.Len(t, res.Identities, 1)
	})

	testutil.Given(t, "no contacts", func(t *testing.T) {
		r, _ := newResolver(t)
		_, err := r.Resolve(ctx, contact.Contacts{})
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})
}

func TestResolveLookupsRunConcurrently(t *testing.T) {
	r, dir := newResolver(t)
	release := make(chan struct{})
	dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string) (domain.NationalID, error) {
			<-release
			return cpfA, nil
		})
	dir.EXPECT().LookupByEmail(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string) (domain.NationalID, error) {
			close(release)
			return cpfA, nil
		})

	res, err := r.Resolve(context.Background(), both)
	require.NoError(t, err)
	assert.True(t, res.SamePerson)
}

func TestResolveLookupTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	r := New(dir, WithLookupTimeout(10*time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	dir.EXPECT().LookupByPhone(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string) (domain.NationalID, error) {
			<-ctx.Done()
			return domain.NationalID{}, upstream.FromTransport(upstream.ServiceDirectory, ctx.Err())
		})

	_, err := r.Resolve(context.Background(), contact.Contacts{Phone: both.Phone})
	assert.True(t, dErrors.Is(err, dErrors.CodeExternalService))
}
