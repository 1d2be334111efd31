package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/ticket-payments/internal"
)

type stubAuthService struct {
	tokens  AuthTokens
	user    *internal.User
	err     error
	lastDTO LoginDTO
}

func (s *stubAuthService) Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error) {
	s.lastDTO = dto
	return s.tokens, s.err
}

func (s *stubAuthService) RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error) {
	return s.tokens, s.err
}

func (s *stubAuthService) Authorize(ctx context.Context, accessToken string) (*internal.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
	return body.Error.Code
}

var _ = ginkgo.Describe("Handler", func() {
	var (
		svc     *stubAuthService
		handler *Handler
		rec     *httptest.ResponseRecorder
	)

	ginkgo.BeforeEach(func() {
		svc = &stubAuthService{
			tokens: AuthTokens{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"},
			user:   &internal.User{ID: uuid.New(), Email: "admin@example.com", Role: internal.RoleAdmin},
		}
		handler = NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
		rec = httptest.NewRecorder()
	})

	ginkgo.Describe("Login", func() {
		post := func(body string) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
			handler.Login(rec, req)
		}

		ginkgo.It("should return tokens on success", func() {
			post(`{"email":"admin@example.com","password":"pw"}`)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var tokens AuthTokens
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &tokens)).To(gomega.Succeed())
			gomega.Expect(tokens.AccessToken).To(gomega.Equal("access"))
			gomega.Expect(svc.lastDTO.Email).To(gomega.Equal("admin@example.com"))
		})

		ginkgo.It("should reject a malformed body", func() {
			post(`{`)
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.DescribeTable("should map service errors",
			func(err error, status int, code string) {
				svc.err = err
				post(`{"email":"admin@example.com","password":"pw"}`)

				gomega.Expect(rec.Code).To(gomega.Equal(status))
				gomega.Expect(errorCode(rec)).To(gomega.Equal(code))
			},
			ginkgo.Entry("bad credentials", ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"),
			ginkgo.Entry("inactive user", ErrUserInactive, http.StatusForbidden, "USER_INACTIVE"),
			ginkgo.Entry("validation", internal.NewValidationFieldError("email", "email is required", internal.ErrCodeValidationFailed), http.StatusBadRequest, "VALIDATION_FAILED"),
			ginkgo.Entry("unexpected", io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"),
		)
	})

	ginkgo.Describe("RefreshToken", func() {
		ginkgo.It("should require a refresh token", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewBufferString(`{}`))
			handler.RefreshToken(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should report an expired token", func() {
			svc.err = ErrTokenExpired
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewBufferString(`{"refresh_token":"r"}`))
			handler.RefreshToken(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(errorCode(rec)).To(gomega.Equal("TOKEN_EXPIRED"))
		})
	})

	ginkgo.Describe("Logout", func() {
		ginkgo.It("should accept a valid token", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
			req.Header.Set("Authorization", "Bearer access")
			handler.Logout(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNoContent))
		})

		ginkgo.It("should require a token", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
			handler.Logout(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})

	ginkgo.Describe("AuthMiddleware", func() {
		var (
			seen   *internal.User
			called bool
			next   http.Handler
		)

		ginkgo.BeforeEach(func() {
			seen, called = nil, false
			next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				seen, _ = internal.UserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})
		})

		ginkgo.It("should put the caller on the request context", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
			req.Header.Set("Authorization", "Bearer access")

			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(seen).To(gomega.Equal(svc.user))
		})

		ginkgo.It("should reject a request without a bearer token", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
			req.Header.Set("Authorization", "Basic abc")

			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(called).To(gomega.BeFalse())
		})

		ginkgo.It("should reject an invalid token", func() {
			svc.err = ErrInvalidToken
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
			req.Header.Set("Authorization", "Bearer nope")

			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(errorCode(rec)).To(gomega.Equal("INVALID_TOKEN"))
			gomega.Expect(called).To(gomega.BeFalse())
		})
	})
})
