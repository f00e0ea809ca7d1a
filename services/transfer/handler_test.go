package transfer

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"trackpoints/pkg/middleware"
	"trackpoints/services/account"
	"trackpoints/services/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func (f *fixture) engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(HandlerParams{Service: f.svc, Accounts: f.accounts}), account.NewHandler(f.accounts))
	return r
}

func actorHeader(externalID, key string) http.Header {
	h := http.Header{}
	h.Set(account.HeaderOrganizationID, "org-ext")
	h.Set(account.HeaderIdentityProvider, "github")
	h.Set(account.HeaderIdentityID, externalID)
	if key != "" {
		h.Set(HeaderIdempotencyKey, key)
	}
	return h
}

func TestCreateTransferHandler(t *testing.T) {
	f := newFixture(t, true)
	alice := f.account(t, "alice", 100)
	r := f.engine()

	body := CreateBody{Beneficiary: &Beneficiary{Provider: "github", ExternalID: "bob"}, Value: 30, Message: "thanks"}
	w := testutil.DoJSON(t, r, http.MethodPost, "/v1/transfers", body, actorHeader("alice", "k1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var first Transaction
	testutil.Decode(t, w, &first)
	require.Equal(t, alice.ID, first.BenefactorAccountID)
	require.Equal(t, int64(30), first.Value)
	require.Equal(t, int64(70), f.balance(t, alice.ID))
	require.Equal(t, int64(30), f.balance(t, first.BeneficiaryAccountID))

	// resubmission with the same key replays
	w = testutil.DoJSON(t, r, http.MethodPost, "/v1/transfers", body, actorHeader("alice", "k1"))
	require.Equal(t, http.StatusCreated, w.Code)
	var replay Transaction
	testutil.Decode(t, w, &replay)
	require.Equal(t, first.ID, replay.ID)
	require.Equal(t, int64(70), f.balance(t, alice.ID))

	w = testutil.DoJSON(t, r, http.MethodGet, "/v1/transfers/"+first.ID, nil, actorHeader("alice", ""))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateTransferHandlerErrors(t *testing.T) {
	f := newFixture(t, true)
	alice := f.account(t, "alice", 100)
	bob := f.account(t, "bob", 0)
	r := f.engine()

	cases := []struct {
		name   string
		body   CreateBody
		key    string
		status int
		code   string
	}{
		{"insufficient", CreateBody{BeneficiaryAccountID: bob.ID, Value: 500}, "", http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"zero value", CreateBody{BeneficiaryAccountID: bob.ID, Value: 0}, "", http.StatusBadRequest, "bad_request"},
		{"self transfer", CreateBody{BeneficiaryAccountID: alice.ID, Value: 5}, "", http.StatusBadRequest, "bad_request"},
		{"no beneficiary", CreateBody{Value: 5}, "", http.StatusBadRequest, "bad_request"},
		{"unresolvable beneficiary", CreateBody{Beneficiary: &Beneficiary{Provider: "github"}, Value: 5}, "", http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"unknown account", CreateBody{BeneficiaryAccountID: "nope", Value: 5}, "", http.StatusNotFound, "not_found"},
		{"seed key", CreateBody{BeneficiaryAccountID: bob.ID, Value: 5}, "k2", http.StatusCreated, ""},
		{"key reuse", CreateBody{BeneficiaryAccountID: bob.ID, Value: 6}, "k2", http.StatusConflict, "conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := testutil.DoJSON(t, r, http.MethodPost, "/v1/transfers", tc.body, actorHeader("alice", tc.key))
			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.code == "" {
				return
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			testutil.Decode(t, w, &body)
			require.Equal(t, tc.code, body.Error.Code)
		})
	}

	require.Equal(t, int64(95), f.balance(t, alice.ID))

	w := testutil.DoJSON(t, r, http.MethodPost, "/v1/transfers", CreateBody{BeneficiaryAccountID: bob.ID, Value: 1}, http.Header{})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
