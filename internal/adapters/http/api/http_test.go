package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/okian/trustgate/internal/adapters/http/api"
	"github.com/okian/trustgate/internal/app"
	"github.com/okian/trustgate/internal/config"
	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/ratelimit"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeDeps struct {
	verdict  app.Verdict
	err      error
	check    app.FieldCheck
	lastSub  model.Submission
	lastEnd  types.Endpoint
	lastFld  string
	lastClnt string
}

func (f *fakeDeps) Submit(_ context.Context, e types.Endpoint, sub model.Submission) (app.Verdict, error) { //nolint:gocritic // hugeParam
	f.lastEnd, f.lastSub = e, sub
	return f.verdict, f.err
}

func (f *fakeDeps) CheckField(_ context.Context, clientID, field, _ string) (app.FieldCheck, ratelimit.Decision, error) {
	f.lastClnt, f.lastFld = clientID, field
	if field != app.FieldName && field != app.FieldMessage {
		return app.FieldCheck{}, ratelimit.Decision{}, app.ErrUnknownField
	}
	return f.check, f.verdict.Decision, f.err
}

func (f *fakeDeps) Health(context.Context) app.HealthStatus {
	return app.HealthStatus{Status: "ok", Posture: "strict", RateStore: "memory"}
}

var resetAt = time.Date(2026, 3, 1, 12, 30, 0, 250_000_000, time.UTC)

func acceptedDeps() *fakeDeps {
	return &fakeDeps{verdict: app.Verdict{
		Lead:     model.Lead{ID: "6f1c1f1e-0000-4000-8000-000000000001"},
		Decision: ratelimit.Decision{Success: true, Limit: 3, Remaining: 2, ResetAt: resetAt},
	}}
}

func do(h http.Handler, method, path, contentType, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	return m
}

func TestSubmitAccepted(t *testing.T) {
	Convey("Given a server over accepting dependencies", t, func() {
		deps := acceptedDeps()
		h := api.NewServer(deps).Routes(context.Background())

		Convey("When a JSON contact form is posted", func() {
			w := do(h, http.MethodPost, "/api/contact", "application/json",
				`{"name":"Jane Doe","message":"Hello","captcha_token":"tok","trust":{"time_spent":42,"honeypot_clean":true}}`,
				"X-Forwarded-For", "203.0.113.9, 10.0.0.1")

			Convey("Then it responds with the submission id and rate headers", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["success"], ShouldEqual, true)
				So(body["submission_id"], ShouldEqual, "6f1c1f1e-0000-4000-8000-000000000001")
				So(w.Header().Get("X-RateLimit-Limit"), ShouldEqual, "3")
				So(w.Header().Get("X-RateLimit-Remaining"), ShouldEqual, "2")
				So(w.Header().Get("X-RateLimit-Reset"), ShouldEqual, "2026-03-01T12:30:00.250Z")
				So(w.Header().Get("Retry-After"), ShouldBeEmpty)
			})

			Convey("And the submission reaches the gate intact", func() {
				So(deps.lastEnd, ShouldEqual, types.EndpointContact)
				So(deps.lastSub.ClientID, ShouldEqual, "203.0.113.9")
				So(deps.lastSub.CaptchaToken, ShouldEqual, "tok")
				So(deps.lastSub.Trust, ShouldNotBeNil)
				So(deps.lastSub.Trust.TimeSpent, ShouldEqual, 42)
				So(deps.lastSub.Trust.HoneypotClean, ShouldBeTrue)
			})

			Convey("And security headers are set", func() {
				So(w.Header().Get("X-Content-Type-Options"), ShouldEqual, "nosniff")
				So(w.Header().Get("X-Frame-Options"), ShouldEqual, "DENY")
				So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")
			})
		})

		Convey("When a form-encoded wizard post uses the widget field names", func() {
			form := url.Values{
				"name":                  {"Jane Doe"},
				"message":               {"Hi"},
				"cf-turnstile-response": {"widget-token"},
				"website":               {"filled-by-bot"},
				"trust_time_spent":      {"30"},
				"trust_behavior_score":  {"80"},
				"trust_honeypot_clean":  {"true"},
			}
			w := do(h, http.MethodPost, "/api/wizard", "application/x-www-form-urlencoded", form.Encode())

			Convey("Then fields are mapped onto the submission", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastEnd, ShouldEqual, types.EndpointWizard)
				So(deps.lastSub.CaptchaToken, ShouldEqual, "widget-token")
				So(deps.lastSub.Honeypot, ShouldEqual, "filled-by-bot")
				So(deps.lastSub.Trust.BehaviorScore, ShouldEqual, 80)
				So(deps.lastSub.ClientID, ShouldEqual, model.AnonymousClient)
			})
		})

		Convey("When each endpoint is posted", func() {
			for path, e := range map[string]types.Endpoint{
				"/api/contact":      types.EndpointContact,
				"/api/consultation": types.EndpointConsultation,
				"/api/wizard":       types.EndpointWizard,
				"/api/showings":     types.EndpointShowing,
			} {
				w := do(h, http.MethodPost, path, "application/json", `{}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastEnd, ShouldEqual, e)
			}
		})

		Convey("When a submission endpoint is fetched with GET", func() {
			w := do(h, http.MethodGet, "/api/contact", "", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestSubmitRejections(t *testing.T) {
	Convey("Given a server whose gate rejects", t, func() {
		deps := acceptedDeps()
		h := api.NewServer(deps).Routes(context.Background())
		deps.verdict.Decision = ratelimit.Decision{Limit: 3, Remaining: 0, ResetAt: resetAt}

		cases := []struct {
			kind   app.Kind
			status int
		}{
			{app.KindRateLimited, http.StatusTooManyRequests},
			{app.KindVerificationFailed, http.StatusForbidden},
			{app.KindVerificationRequired, http.StatusForbidden},
			{app.KindSuspectedSpam, http.StatusForbidden},
			{app.KindContentRejected, http.StatusUnprocessableEntity},
			{app.KindVerificationUnavailable, http.StatusServiceUnavailable},
			{app.KindConfigurationMissing, http.StatusServiceUnavailable},
		}

		Convey("Then every kind maps onto its status and code", func() {
			for _, c := range cases {
				deps.err = &app.Rejection{Kind: c.kind, Message: "msg", RetryAfter: 120, Cause: errors.New("internal detail")}
				w := do(h, http.MethodPost, "/api/contact", "application/json", `{}`)

				So(w.Code, ShouldEqual, c.status)
				body := decode(w)
				So(body["success"], ShouldEqual, false)
				So(body["code"], ShouldEqual, string(c.kind))
				So(body["message"], ShouldEqual, "msg")
				So(w.Body.String(), ShouldNotContainSubstring, "internal detail")
				So(w.Header().Get("X-RateLimit-Remaining"), ShouldEqual, "0")

				if c.kind == app.KindRateLimited {
					So(w.Header().Get("Retry-After"), ShouldEqual, "120")
					So(body["retry_after"], ShouldEqual, float64(120))
				} else {
					So(w.Header().Get("Retry-After"), ShouldBeEmpty)
					So(body, ShouldNotContainKey, "retry_after")
				}
			}
		})

		Convey("When dispatch is backed up", func() {
			deps.err = errors.Join(app.ErrDispatchBusy, errors.New("queue is full"))
			w := do(h, http.MethodPost, "/api/contact", "application/json", `{}`)

			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode(w)["code"], ShouldEqual, "backpressure")
		})

		Convey("When the gate fails internally", func() {
			deps.err = errors.New("boom")
			w := do(h, http.MethodPost, "/api/contact", "application/json", `{}`)

			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldNotContainSubstring, "boom")
		})
	})
}

func TestMalformedRequests(t *testing.T) {
	Convey("Given a server with a small body limit", t, func() {
		deps := acceptedDeps()
		h := api.NewServer(deps, api.WithMaxBodyBytes(64)).Routes(context.Background())

		Convey("Then broken JSON is a bad request", func() {
			w := do(h, http.MethodPost, "/api/contact", "application/json", `{"name":`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, "bad_request")
		})

		Convey("Then an unsupported content type is refused", func() {
			w := do(h, http.MethodPost, "/api/contact", "text/plain", "hello")
			So(w.Code, ShouldEqual, http.StatusUnsupportedMediaType)
		})

		Convey("Then an oversized body is refused", func() {
			w := do(h, http.MethodPost, "/api/contact", "application/json",
				`{"message":"`+strings.Repeat("x", 200)+`"}`)
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		})
	})
}

func TestValidateEndpoint(t *testing.T) {
	Convey("Given a server", t, func() {
		deps := acceptedDeps()
		deps.check = app.FieldCheck{Acceptable: false, Reason: "Name capitalization looks unusual."}
		h := api.NewServer(deps).Routes(context.Background())

		Convey("When a field is checked", func() {
			w := do(h, http.MethodPost, "/api/validate", "application/json", `{"field":"name","value":"jAnE"}`,
				"X-Real-IP", "198.51.100.4")

			Convey("Then only acceptability and reason are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["acceptable"], ShouldEqual, false)
				So(body["reason"], ShouldEqual, "Name capitalization looks unusual.")
				So(body, ShouldNotContainKey, "score")
				So(deps.lastClnt, ShouldEqual, "198.51.100.4")
			})
		})

		Convey("When an unknown field is checked", func() {
			w := do(h, http.MethodPost, "/api/validate", "application/json", `{"field":"email","value":"x"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given a server", t, func() {
		h := api.NewServer(acceptedDeps()).Routes(context.Background())

		Convey("Then /healthz returns JSON status", func() {
			w := do(h, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})

		Convey("Then /metrics exposes Prometheus text", func() {
			do(h, http.MethodGet, "/healthz", "", "")
			w := do(h, http.MethodGet, "/metrics", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "trustgate_http_requests_total")
		})

		Convey("Then /openapi.yaml is served", func() {
			w := do(h, http.MethodGet, "/openapi.yaml", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestClientID(t *testing.T) {
	Convey("Given requests with different forwarding headers", t, func() {
		build := func(remote string, headers ...string) *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			r.RemoteAddr = remote
			for i := 0; i+1 < len(headers); i += 2 {
				r.Header.Set(headers[i], headers[i+1])
			}
			return r
		}

		So(api.ClientID(build("10.0.0.1:5000", "X-Forwarded-For", " 1.1.1.1 , 2.2.2.2", "X-Real-IP", "3.3.3.3"), false), ShouldEqual, "1.1.1.1")
		So(api.ClientID(build("10.0.0.1:5000", "X-Real-IP", "3.3.3.3", "CF-Connecting-IP", "4.4.4.4"), false), ShouldEqual, "3.3.3.3")
		So(api.ClientID(build("10.0.0.1:5000", "CF-Connecting-IP", "4.4.4.4"), false), ShouldEqual, "4.4.4.4")
		So(api.ClientID(build("10.0.0.1:5000", "X-Forwarded-For", " , "), false), ShouldEqual, model.AnonymousClient)
		So(api.ClientID(build("10.0.0.1:5000"), false), ShouldEqual, model.AnonymousClient)
		So(api.ClientID(build("10.0.0.1:5000"), true), ShouldEqual, "10.0.0.1")
	})
}

func TestEndToEnd(t *testing.T) {
	Convey("Given a permissive service behind the router", t, func() {
		So(logger.Init(logger.WithWriter(io.Discard)), ShouldBeNil)
		ctx := context.Background()
		cfg := config.New()
		cfg.Posture = types.Permissive.String()

		svc, err := app.New(ctx, cfg)
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		h := api.NewServer(svc).Routes(ctx)

		body := `{"name":"Jane Doe","message":"I would like to book a showing for the flat on Elm Road.","captcha_token":"tok"}`

		Convey("Then the fourth showing request within the hour is throttled", func() {
			var codes []int
			var last *httptest.ResponseRecorder
			for i := 0; i < 4; i++ {
				last = do(h, http.MethodPost, "/api/showings", "application/json", body, "X-Forwarded-For", "192.0.2.50")
				codes = append(codes, last.Code)
			}
			So(codes, ShouldResemble, []int{200, 200, 200, 429})
			So(last.Header().Get("Retry-After"), ShouldNotBeEmpty)
			So(last.Header().Get("X-RateLimit-Remaining"), ShouldEqual, "0")
		})
	})
}
