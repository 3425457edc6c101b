package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"smartattend/internal/attendance"
	attendancestore "smartattend/internal/attendance/store"
	"smartattend/internal/catalog"
	catalogstore "smartattend/internal/catalog/store"
	"smartattend/internal/escalation"
	"smartattend/internal/escalation/sessions"
	escalationstore "smartattend/internal/escalation/store"
	"smartattend/internal/ledger"
	ledgerstore "smartattend/internal/ledger/store"
	"smartattend/internal/timeauthority"
	driftstore "smartattend/internal/timeauthority/store"
	httptransport "smartattend/internal/transport/http"
	"smartattend/pkg/platform/middleware/auth"
	"smartattend/pkg/testutil"
)

const signingKey = "router-test-key"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ldg, err := ledger.New(ledgerstore.NewInMemory())
	require.NoError(t, err)

	cat, err := catalog.New(context.Background(), catalogstore.NewInMemory(), ldg)
	require.NoError(t, err)

	att, err := attendance.New(attendancestore.NewInMemory(), ldg, cat)
	require.NoError(t, err)

	drift, err := timeauthority.New(driftstore.NewInMemory(), ldg, cat)
	require.NoError(t, err)

	esc, err := escalation.New(escalationstore.NewInMemory(), ldg, cat,
		escalation.WithSessions(sessions.NewMemory()))
	require.NoError(t, err)

	return httptransport.NewRouter(httptransport.Services{
		Attendance: att,
		Time:       drift,
		Escalation: esc,
		Ledger:     ldg,
	}, auth.NewValidator(signingKey), logger, nil)
}

func mintToken(t *testing.T, subject, role, tenant string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.ActorClaims{
		Role:     role,
		TenantID: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return token
}

func do(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	router := newTestRouter(t)
	teacherToken := mintToken(t, "teacher-1", "TEACHER", "school-a")

	testutil.Given(t, "the HTTP router", func(t *testing.T) {
		testutil.When(t, "calling an open endpoint", func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/healthz", "", nil)
			testutil.Then(t, "health responds without auth", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rec.Code)
			})
		})

		testutil.When(t, "calling a domain endpoint without a token", func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/attendance/records", "", map[string]string{})
			testutil.Then(t, "the request is unauthorized", func(t *testing.T) {
				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		testutil.When(t, "a teacher creates and verifies a record", func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/attendance/records", teacherToken, map[string]string{
				"subject_id":  "student-1",
				"session_ref": "session-1",
			})
			require.Equal(t, http.StatusCreated, rec.Code)

			var created struct {
				RecordID string `json:"record_id"`
				State    string `json:"state"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
			require.Equal(t, "PENDING", created.State)

			rec = do(t, router, http.MethodPost, "/attendance/transition", teacherToken, map[string]string{
				"record_id":    created.RecordID,
				"target_state": "VERIFIED",
				"reason_code":  "SCAN_ACCEPTED",
			})
			testutil.Then(t, "the transition is accepted", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rec.Code)

				var res struct {
					NewState string `json:"new_state"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
				require.Equal(t, "VERIFIED", res.NewState)
			})
		})

		testutil.When(t, "a device reports a clock 650 seconds behind", func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/time/classify", teacherToken, map[string]any{
				"subject_id":   "student-1",
				"device_id":    "device-1",
				"device_class": "MOBILE_ANDROID",
				"client_time":  time.Now().UTC().Add(-650 * time.Second).Format(time.RFC3339),
			})
			testutil.Then(t, "policy rejects the operation", func(t *testing.T) {
				require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

				var resp struct {
					Error string `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.Equal(t, "policy_violation", resp.Error)
			})
		})
	})
}
