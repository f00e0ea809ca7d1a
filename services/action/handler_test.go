package action

import (
	"context"
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"trackpoints/pkg/middleware"
	"trackpoints/services/account"
	"trackpoints/services/testutil"
)

func TestListHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gdb := testutil.NewTestDB(t, append(account.Models(), &Action{})...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	accounts := account.NewService(account.ServiceParams{DB: gdb, Node: node})
	svc := NewService(ServiceParams{DB: gdb, Node: node})

	org, err := accounts.EnsureOrganization(context.Background(), "org-ext", "Acme")
	require.NoError(t, err)
	svc.Record(context.Background(), Entry{OrganizationID: org.ID, Type: TypeTransfer, TransactionID: "tx-1", Value: 5})
	svc.Record(context.Background(), Entry{OrganizationID: "elsewhere", Type: TypeTransfer, TransactionID: "tx-2", Value: 9})

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(svc), account.NewHandler(accounts))

	header := http.Header{}
	header.Set(account.HeaderOrganizationID, "org-ext")
	header.Set(account.HeaderIdentityProvider, "github")
	header.Set(account.HeaderIdentityID, "sam")

	w := testutil.DoJSON(t, r, http.MethodGet, "/v1/actions", nil, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Items []Action `json:"items"`
	}
	testutil.Decode(t, w, &body)
	require.Len(t, body.Items, 1)
	require.Equal(t, "tx-1", *body.Items[0].TransactionID)
}
