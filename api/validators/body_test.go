package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
)

type claimBody struct {
	Number     string `json:"number" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=1,max=86400"`
	Action     string `json:"action" validate:"omitempty,oneof=reserve release"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"number":"5","ttl_seconds":60}`))
	var body claimBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "5", body.Number)
	assert.Equal(t, 60, body.TTLSeconds)
}

func TestDecodeJSONBodyErrors(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"number":"5","extra":true}`,
		"missing":       `{"ttl_seconds":60}`,
		"range":         `{"number":"5","ttl_seconds":-5}`,
		"oneof":         `{"number":"5","action":"sell"}`,
		"malformed":     `{"number":`,
	}
	for name, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var body claimBody
		err := DecodeJSONBody(req, &body)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), name)
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"number":"5","action":"sell"}`))
	var body claimBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be one of: reserve release", details["action"])
}

type paymentBody struct {
	OrderRef string   `json:"order_ref" validate:"required,max=64,ref"`
	Numbers  []string `json:"numbers" validate:"required,min=1,max=2"`
}

func TestDecodeJSONBodyRefAndSliceMessages(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"order_ref":"WC 10; drop","numbers":["1","2","3"]}`))
	var body paymentBody
	typed := pkgerrors.As(DecodeJSONBody(req, &body))
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "may only contain letters, digits and . _ : / # -", details["order_ref"])
	assert.Equal(t, "must list at most 2", details["numbers"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"order_ref":"WC-10/2#a","numbers":["1"]}`))
	require.NoError(t, DecodeJSONBody(req, &body))
}

func TestDecodeJSONBodyRejectsTrailingAndOversized(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"number":"5"}{"number":"6"}`))
	var body claimBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	huge := `{"number":"` + strings.Repeat("1", maxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
	err = DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.Contains(t, pkgerrors.As(err).Message(), "exceeds")
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&page_size=abc&big=500", nil)

	v, err := ParseQueryInt(req, "page", 1, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = ParseQueryInt(req, "missing", 7, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = ParseQueryInt(req, "page_size", 1, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseQueryInt(req, "big", 1, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?cart=0001,%207,,0042%20", nil)
	ids, err := ParseQueryList(req, "cart")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "7", "0042"}, ids)

	ids, err = ParseQueryList(req, "missing")
	require.NoError(t, err)
	assert.Nil(t, ids)

	long := strings.Repeat("1,", maxListItems+1)
	_, err = ParseQueryList(httptest.NewRequest(http.MethodGet, "/?cart="+long, nil), "cart")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "abc", SanitizeText("  abcdef ", 3))
	assert.Equal(t, "abcdef", SanitizeText("abcdef", 0))
	assert.Equal(t, "Zoë", SanitizeText("Zoë\x00!", 3))
	assert.Equal(t, "line one\nline two", SanitizeText("line one\nline two\t", 0))
}

func TestSanitizeDigits(t *testing.T) {
	assert.Equal(t, "42", SanitizeDigits(" 4-2 ", 4))
	assert.Equal(t, "1234", SanitizeDigits("123456", 4))
	assert.Equal(t, "", SanitizeDigits("%_", 4))
}
