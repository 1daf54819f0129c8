package httpapi_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/heldtx/heldtx/internal/clock"
	"github.com/heldtx/heldtx/internal/config"
	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/eventbus"
	"github.com/heldtx/heldtx/internal/httpapi"
	"github.com/heldtx/heldtx/internal/txmanager"
)

func setupAPITestEnv(t *testing.T) dbtx.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("heldtx_test"),
		tcmysql.WithUsername("heldtx"),
		tcmysql.WithPassword("heldtx"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, `CREATE TABLE items (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(64) NOT NULL)`)
	require.NoError(t, err)

	return dbtx.OpenWithDB(db)
}

func newTestServer(t *testing.T, pool dbtx.Pool, cfg config.Config) (*httptest.Server, *txmanager.Manager) {
	t.Helper()
	mgr := txmanager.New(cfg, pool, clock.System{}, eventbus.NoOp{})
	dispatcher := httpapi.NewDispatcher(mgr, pool)

	mux := http.NewServeMux()
	httpapi.AddTransactionRoutes(mux, mgr)
	mux.HandleFunc("POST /items", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		value, txID, _, err := dispatcher.Dispatch(r.Context(), r, func(ctx context.Context, exec dbtx.Exec) (any, error) {
			_, err := exec.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", body.Name)
			return nil, err
		})
		if err != nil {
			httpapi.WriteDispatchError(w, txID, err)
			return
		}
		httpapi.WriteCreated(w, value)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func TestLifecycle_CreateCommitRemovesEntry(t *testing.T) {
	pool := setupAPITestEnv(t)
	srv, _ := newTestServer(t, pool, config.Default())

	resp, err := http.Post(srv.URL+"/transactions", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data struct {
			Type       string `json:"type"`
			ID         string `json:"id"`
			Attributes struct {
				State          string `json:"state"`
				TimeoutSeconds int    `json:"timeout_seconds"`
			} `json:"attributes"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.Data.ID)
	require.Equal(t, "transactions", created.Data.Type)
	require.Equal(t, "open", created.Data.Attributes.State)
	require.NotZero(t, created.Data.Attributes.TimeoutSeconds)

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/transactions/"+created.Data.ID, bytes.NewBufferString(`{"data":{"type":"transactions","attributes":{"state":"committed"}}}`))
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var committed struct {
		Data struct {
			Type       string `json:"type"`
			Attributes struct {
				State string `json:"state"`
			} `json:"attributes"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&committed))
	require.Equal(t, "transactions", committed.Data.Type)
	require.Equal(t, "committed", committed.Data.Attributes.State)

	resp3, err := http.Get(srv.URL + "/transactions/" + created.Data.ID)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestDispatch_RunsInsideHeldTransactionAcrossRequests(t *testing.T) {
	pool := setupAPITestEnv(t)
	srv, _ := newTestServer(t, pool, config.Default())

	resp, err := http.Post(srv.URL+"/transactions", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	var created struct {
		Data struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, "transactions", created.Data.Type)
	txID := created.Data.ID

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/items", bytes.NewBufferString(`{"name":"widget-a"}`))
	req.Header.Set(httpapi.TransactionHeader, txID)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	resp2.Body.Close()

	req2, _ := http.NewRequest(http.MethodPatch, srv.URL+"/transactions/"+txID, bytes.NewBufferString(`{"data":{"type":"transactions","attributes":{"state":"rolled_back"}}}`))
	resp3, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	resp3.Body.Close()

	var count int
	require.NoError(t, pool.WithoutTransaction().QueryRowContext(context.Background(), "SELECT COUNT(*) FROM items").Scan(&count))
	require.Equal(t, 0, count)
}

func TestLifecycle_InvalidStateTransitionIs422(t *testing.T) {
	pool := setupAPITestEnv(t)
	srv, _ := newTestServer(t, pool, config.Default())

	resp, err := http.Post(srv.URL+"/transactions", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	var created struct {
		Data struct{ ID string } `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/transactions/"+created.Data.ID, bytes.NewBufferString(`{"data":{"type":"transactions","attributes":{"state":"frobnicated"}}}`))
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp2.StatusCode)
}
