package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/backend/internal/storage/models"
)

const pricingPage = `<html>
<head><title>Acme Pricing</title><style>body { color: red }</style></head>
<body>
<nav><a href="https://acme.example.com/nav">Nav</a></nav>
<h1>Acme Pricing</h1>
<p>Starter plan at $29.99 per month. Pro plan at $99 per month.</p>
<p>Enterprise pricing available on request. Follow us at @acmehq.</p>
<a href="https://acme.example.com/signup">Sign up</a>
<a href="/relative">Relative link</a>
<a href="https://acme.example.com/signup">Sign up again</a>
<footer>© Acme</footer>
</body>
</html>`

func TestObserveExtractsStructuredFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pricingPage))
	}))
	defer srv.Close()

	source := NewWebSource(5)
	obs, err := source.Observe(context.Background(), &models.MonitoringTarget{
		ID:    "t1",
		Kind:  models.EntityCompetitor,
		Query: srv.URL,
	})
	require.NoError(t, err)

	assert.Contains(t, obs.Content, "Starter plan at $29.99")
	assert.NotContains(t, obs.Content, "color: red")
	assert.NotContains(t, obs.Content, "© Acme")

	assert.Equal(t, []float64{29.99, 99}, obs.Extracted.Pricing.Amounts)
	assert.Equal(t, []string{"USD"}, obs.Extracted.Pricing.Currencies)
	assert.Contains(t, obs.Extracted.Pricing.Plans, "starter")
	assert.Contains(t, obs.Extracted.Pricing.Plans, "pro")
	assert.Contains(t, obs.Extracted.Pricing.Plans, "enterprise")

	assert.Equal(t, []string{"@acmehq"}, obs.Extracted.SocialHandles)
	assert.False(t, obs.ObservedAt.IsZero())
}

func TestObserveLinksDedupedAndAbsoluteOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pricingPage))
	}))
	defer srv.Close()

	source := NewWebSource(5)
	obs, err := source.Observe(context.Background(), &models.MonitoringTarget{Query: srv.URL})
	require.NoError(t, err)

	// Nav links are collected before boilerplate removal; relative links
	// and duplicates are not.
	assert.Equal(t, []string{
		"https://acme.example.com/nav",
		"https://acme.example.com/signup",
	}, obs.Extracted.URLs)
}

func TestObserveNon200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	source := NewWebSource(5)
	_, err := source.Observe(context.Background(), &models.MonitoringTarget{Query: srv.URL})
	assert.Error(t, err)
}

func TestExtractPricingCurrenciesAndFormats(t *testing.T) {
	info := extractPricing("Plans from €10, also £1,299.50 and USD 42")
	assert.Equal(t, []float64{10, 1299.50, 42}, info.Amounts)
	assert.Equal(t, []string{"EUR", "GBP", "USD"}, info.Currencies)
}

func TestExtractPricingIgnoresBareNumbers(t *testing.T) {
	info := extractPricing("We have 500 customers in 30 countries")
	assert.Empty(t, info.Amounts)
	assert.Empty(t, info.Currencies)
}

func TestContainsWordBoundaries(t *testing.T) {
	assert.True(t, containsWord("our pro plan", "pro"))
	assert.True(t, containsWord("pro plan first", "pro"))
	assert.False(t, containsWord("our professional plan", "pro"))
	assert.False(t, containsWord("approval flow", "pro"))
}

func TestExtractHandles(t *testing.T) {
	handles := extractHandles("Follow @acmehq and @acme_dev, or email ops@acmehq again @acmehq")
	assert.Equal(t, []string{"@acme_dev", "@acmehq"}, handles)
}
