package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/trustgate/internal/app"
	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/ratelimit"
	"github.com/okian/trustgate/internal/domain/scoring"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
)

// resetLayout is ISO-8601 UTC with milliseconds.
const resetLayout = "2006-01-02T15:04:05.000Z"

// trustRequest mirrors the behavioral telemetry a form reports.
type trustRequest struct {
	TimeSpent      float64 `json:"time_spent"`
	BehaviorScore  float64 `json:"behavior_score"`
	FormValidation float64 `json:"form_validation"`
	HoneypotClean  bool    `json:"honeypot_clean"`
	EmailQuality   float64 `json:"email_quality"`
	PhoneValidity  float64 `json:"phone_validity"`
}

// submissionRequest mirrors the OpenAPI schema shared by every form endpoint.
type submissionRequest struct {
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone"`
	Message       string        `json:"message"`
	CaptchaToken  string        `json:"captcha_token"`
	TurnstileResp string        `json:"cf-turnstile-response"`
	Website       string        `json:"website"` // honeypot
	Trust         *trustRequest `json:"trust,omitempty"`
}

func (req *submissionRequest) submission(clientID string) model.Submission {
	token := req.CaptchaToken
	if strings.TrimSpace(token) == "" {
		token = req.TurnstileResp
	}
	sub := model.Submission{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Message:      req.Message,
		CaptchaToken: token,
		Honeypot:     req.Website,
		ClientID:     clientID,
	}
	if req.Trust != nil {
		sub.Trust = &scoring.Factors{
			TimeSpent:      req.Trust.TimeSpent,
			BehaviorScore:  req.Trust.BehaviorScore,
			FormValidation: req.Trust.FormValidation,
			HoneypotClean:  req.Trust.HoneypotClean,
			EmailQuality:   req.Trust.EmailQuality,
			PhoneValidity:  req.Trust.PhoneValidity,
		}
	}
	return sub
}

type acceptedResponse struct {
	Success      bool   `json:"success"`
	SubmissionID string `json:"submission_id"`
}

func (s *Server) handleSubmit(endpoint types.Endpoint) http.HandlerFunc {
	op := "api.submit_" + string(endpoint)
	return func(w http.ResponseWriter, r *http.Request) {
		var req submissionRequest
		if err := decodeRequest(r, &req, formSubmission); err != nil {
			s.writeDecodeError(w, r, op, err)
			return
		}

		v, err := s.deps.Submit(r.Context(), endpoint, req.submission(ClientID(r, s.trustRemoteAddr)))
		writeRateHeaders(w, v.Decision)
		if err != nil {
			s.writeGateError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, acceptedResponse{Success: true, SubmissionID: v.Lead.ID})
	}
}

type validateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type validateResponse struct {
	Success    bool   `json:"success"`
	Acceptable bool   `json:"acceptable"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.validate"

	var req validateRequest
	if err := decodeRequest(r, &req, func(f formValues, v *validateRequest) {
		v.Field, v.Value = f.get("field"), f.get("value")
	}); err != nil {
		s.writeDecodeError(w, r, op, err)
		return
	}

	res, d, err := s.deps.CheckField(r.Context(), ClientID(r, s.trustRemoteAddr), req.Field, req.Value)
	writeRateHeaders(w, d)
	if errors.Is(err, app.ErrUnknownField) {
		writeError(w, http.StatusBadRequest, "bad_request", "field must be name or message")
		return
	}
	if err != nil {
		s.writeGateError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Success: true, Acceptable: res.Acceptable, Reason: res.Reason})
}

// writeRateHeaders sets the X-RateLimit-* headers when the limiter ran.
func writeRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(resetLayout))
}

// statusFor maps a rejection kind onto an HTTP status.
func statusFor(kind app.Kind) int {
	switch kind {
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	case app.KindVerificationFailed, app.KindVerificationRequired, app.KindSuspectedSpam:
		return http.StatusForbidden
	case app.KindContentRejected:
		return http.StatusUnprocessableEntity
	case app.KindVerificationUnavailable, app.KindConfigurationMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeGateError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if rej, ok := app.AsRejection(err); ok {
		resp := errorResponse{Code: string(rej.Kind), Message: rej.Message}
		if rej.Kind == app.KindRateLimited {
			resp.RetryAfter = rej.RetryAfter
			w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
		}
		writeJSON(w, statusFor(rej.Kind), resp)
		return
	}
	err = gateFault(op, err)
	if errors.Is(err, ErrBackpressure) {
		s.log.Warn(r.Context(), "dispatch backpressure", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "backpressure", app.MessageDispatchBusy)
		return
	}
	s.log.Error(r.Context(), "submission failed", logger.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", app.MessageTryLater)
}

// gateFault tags a non-rejection gate error: a busy dispatch queue is
// backpressure, anything else is internal.
func gateFault(op string, err error) error {
	if errors.Is(err, app.ErrDispatchBusy) {
		return WrapKind(op, ErrBackpressure, err)
	}
	return WrapKind(op, ErrInternal, err)
}

func (s *Server) writeDecodeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Debug(r.Context(), "malformed request", logger.String("op", op), logger.Error(err))
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body is too large.")
	case errors.Is(err, ErrUnsupportedMedia):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Send JSON or form-encoded data.")
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed request.")
	}
}

type formValues map[string][]string

func (f formValues) get(key string) string {
	if vs := f[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (f formValues) float(key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(f.get(key)), 64)
	if err != nil {
		return 0
	}
	return v
}

func formSubmission(f formValues, req *submissionRequest) {
	req.Name = f.get("name")
	req.Email = f.get("email")
	req.Phone = f.get("phone")
	req.Message = f.get("message")
	req.CaptchaToken = f.get("captcha_token")
	req.TurnstileResp = f.get("cf-turnstile-response")
	req.Website = f.get("website")

	if _, ok := f["trust_time_spent"]; !ok {
		return
	}
	clean, _ := strconv.ParseBool(f.get("trust_honeypot_clean"))
	req.Trust = &trustRequest{
		TimeSpent:      f.float("trust_time_spent"),
		BehaviorScore:  f.float("trust_behavior_score"),
		FormValidation: f.float("trust_form_validation"),
		HoneypotClean:  clean,
		EmailQuality:   f.float("trust_email_quality"),
		PhoneValidity:  f.float("trust_phone_validity"),
	}
}

// decodeRequest fills v from a JSON body or, for form posts, through fromForm.
func decodeRequest[T any](r *http.Request, v *T, fromForm func(formValues, *T)) error {
	const op = "api.decode"

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return WrapKind(op, ErrUnsupportedMedia, err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(v); err != nil {
			return classify(op, err)
		}
		return nil
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(defaultMaxBodyBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return classify(op, err)
		}
		fromForm(formValues(r.PostForm), v)
		return nil
	default:
		return WrapKind(op, ErrUnsupportedMedia, fmt.Errorf("%q", mediaType))
	}
}

func classify(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return WrapKind(op, ErrBodyTooLarge, err)
	}
	return WrapKind(op, ErrBadRequest, err)
}
