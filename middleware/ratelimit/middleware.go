package ratelimit

import (
	"errors"
	"net/http"
	"strings"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

const (
	DefaultKeyHeader   = "X-API-Key"
	DefaultAPIPrefix   = "/api/"
	DefaultAdminPrefix = "/admin"

	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// ResponseHeaders são os headers de resposta que pertencem ao gateway; o
// forwarder descarta as versões vindas do upstream.
var ResponseHeaders = []string{HeaderRateLimitRemaining, HeaderRateLimitReset}

type KeyFunc func(r *http.Request) domain.APIKey

// HeaderKeyFunc lê a chave de um header como veio: " key " não autentica como "key".
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) domain.APIKey {
		return domain.APIKey(r.Header.Get(header))
	}
}

type Options struct {
	Admission   application.AdmissionService
	KeyHeader   string
	KeyFn       KeyFunc
	APIPrefix   string
	AdminPrefix string
	Logger      *zap.Logger
}

// Stage é o estado de uma requisição no dispatcher.
type Stage int

const (
	StageReceived Stage = iota
	StageBypassed
	StageRejected
	StageForwarded
)

func (s Stage) String() string {
	switch s {
	case StageBypassed:
		return "bypassed"
	case StageRejected:
		return "rejected"
	case StageForwarded:
		return "forwarded"
	default:
		return "received"
	}
}

// Classify decide se o path passa direto ou entra no controle de admissão.
func Classify(path, apiPrefix, adminPrefix string) Stage {
	if path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/") {
		return StageBypassed
	}
	if !strings.HasPrefix(path, apiPrefix) {
		return StageBypassed
	}
	return StageReceived
}

// Middleware é o dispatcher: autentica, consulta o limiter e decide entre
// rejeitar localmente ou encaminhar para next.
//
// Toda requisição protegida termina em exatamente um de: rejeição explícita
// (401/403/429) ou next.ServeHTTP com os headers de rate limit já setados.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyHeader == "" {
		opts.KeyHeader = DefaultKeyHeader
	}
	if opts.KeyFn == nil {
		opts.KeyFn = HeaderKeyFunc(opts.KeyHeader)
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = DefaultAPIPrefix
	}
	if opts.AdminPrefix == "" {
		opts.AdminPrefix = DefaultAdminPrefix
	}
	opts.AdminPrefix = strings.TrimSuffix(opts.AdminPrefix, "/")
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	missingMsg := "Missing " + opts.KeyHeader

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// classifica pelo path como chegou (o mesmo que o roteador e o
			// forwarder usam); "/api%2F..." ou "/ap%69/..." não são protegidos.
			if Classify(r.URL.EscapedPath(), opts.APIPrefix, opts.AdminPrefix) == StageBypassed {
				logStage(ctx, StageBypassed)
				next.ServeHTTP(w, r)
				return
			}

			adm, err := opts.Admission.Admit(ctx, opts.KeyFn(r), r.Method, r.URL.Path)
			if err != nil {
				reason := reasonFor(err)
				logStage(ctx, StageRejected)
				logField(ctx, fieldReason, reason.String())
				if reason == ReasonInternal {
					opts.Logger.Error("admission failed", zap.Error(err), zap.String("path", r.URL.Path))
				}
				msg := reason.Message()
				if reason == ReasonMissingCredential {
					msg = missingMsg
				}
				writeError(w, reason.Status(), msg)
				return
			}

			dec := adm.Decision
			logField(ctx, fieldPlan, adm.Plan.Name)
			logField(ctx, fieldRouteClass, string(adm.Bucket.Class))

			if !dec.Allowed {
				logStage(ctx, StageRejected)
				logField(ctx, fieldReason, ReasonRateLimited.String())
				logField(ctx, fieldRetryAfter, dec.RetryAfterSeconds)
				w.Header().Set("Retry-After", formatInt64(dec.RetryAfterSeconds))
				writeRateLimited(w, dec.RetryAfterSeconds)
				return
			}

			logStage(ctx, StageForwarded)
			logField(ctx, fieldRemaining, dec.Remaining)
			w.Header().Set(HeaderRateLimitRemaining, formatInt(dec.Remaining))
			w.Header().Set(HeaderRateLimitReset, formatInt64(dec.WindowResetEpochSeconds))
			next.ServeHTTP(w, r)
		})
	}
}

func reasonFor(err error) RejectReason {
	switch {
	case errors.Is(err, domain.ErrMissingKey):
		return ReasonMissingCredential
	case errors.Is(err, domain.ErrUnknownKey), errors.Is(err, domain.ErrPlanNotFound):
		return ReasonInvalidCredential
	default:
		return ReasonInternal
	}
}
