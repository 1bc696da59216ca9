package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/outreach-sequencer/internal/pkg/httputil"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
	"github.com/ignite/outreach-sequencer/internal/service/sequence"
	"github.com/ignite/outreach-sequencer/internal/service/suppression"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationDetails maps each failing field to a readable message.
func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["body"] = err.Error()
		return details
	}
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "max":
			details[field] = "must be at most " + fe.Param() + " characters"
		case "email":
			details[field] = "must be a valid email"
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		default:
			details[field] = "is invalid"
		}
	}
	return details
}

// decodeAndValidate decodes the body into dst and validates it, writing
// the 400 response itself on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if !httputil.Decode(w, r, dst) {
		return false
	}
	if err := validate.Struct(dst); err != nil {
		httputil.ValidationFailed(w, validationDetails(err))
		return false
	}
	return true
}

type statusMapping struct {
	err    error
	status int
	code   string
}

var errorStatuses = []statusMapping{
	{schedule.ErrNotFound, http.StatusNotFound, "not_found"},
	{schedule.ErrThreadNotFound, http.StatusNotFound, "thread_not_found"},
	{reconcile.ErrRecordNotFound, http.StatusNotFound, "not_found"},
	{sequence.ErrTemplateNotFound, http.StatusNotFound, "template_not_found"},
	{sequence.ErrNoTemplate, http.StatusNotFound, "no_template"},
	{schedule.ErrNoSchedule, http.StatusNotFound, "no_schedule"},
	{suppression.ErrNotFound, http.StatusNotFound, "not_found"},

	{schedule.ErrPastDate, http.StatusBadRequest, "past_date"},
	{sequence.ErrWrongTrigger, http.StatusBadRequest, "wrong_trigger"},
	{reconcile.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{reconcile.ErrUnknownKind, http.StatusBadRequest, "unknown_kind"},
	{suppression.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{suppression.ErrInvalidReason, http.StatusBadRequest, "invalid_reason"},

	{schedule.ErrOrdering, http.StatusConflict, "ordering"},
	{schedule.ErrAlreadySent, http.StatusConflict, "already_sent"},
	{schedule.ErrEntryFailed, http.StatusConflict, "entry_failed"},
	{schedule.ErrHasSentEntries, http.StatusConflict, "has_sent_entries"},
	{schedule.ErrConflict, http.StatusConflict, "conflict"},
	{generation.ErrNotEligible, http.StatusConflict, "not_eligible"},

	{generation.ErrGenerationFailure, http.StatusBadGateway, "generation_failed"},
}

// writeServiceError maps a service error onto a status code. Unmapped
// errors are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			httputil.ErrorCode(w, m.status, m.code, err.Error())
			return
		}
	}
	httputil.InternalError(w, err)
}
