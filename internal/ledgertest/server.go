package ledgertest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgerclient/internal/metrics"
	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// ServerOption configures the HTTP front of a Service.
type ServerOption func(*server)

// WithCredentials protects the database routes: clients must first log in
// with user/password and then present the issued token.
func WithCredentials(user, password string, secret []byte, ttl time.Duration) ServerOption {
	return func(s *server) {
		s.user = user
		s.password = password
		s.secret = secret
		s.ttl = ttl
	}
}

func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *server) { s.logger = logger }
}

type server struct {
	svc    *Service
	logger *zap.Logger

	user     string
	password string
	secret   []byte
	ttl      time.Duration
}

// NewHandler exposes svc over HTTP/JSON:
//
//	POST /api/v1/login
//	GET  /api/v1/health
//	POST /api/v1/db/:db/set
//	POST /api/v1/db/:db/get
//	POST /api/v1/db/:db/reference
//	POST /api/v1/db/:db/verifiable/set
//	POST /api/v1/db/:db/verifiable/get
//	GET  /metrics
func NewHandler(svc *Service, opts ...ServerOption) http.Handler {
	s := &server{svc: svc, logger: zap.NewNop(), ttl: time.Hour}
	for _, o := range opts {
		o(s)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), metrics.PrometheusMiddleware())

	r.GET("/metrics", metrics.MetricsHandler())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/login", s.login)
		v1.GET("/health", s.health)

		db := v1.Group("/db/:db", s.requireToken())
		{
			db.POST("/set", s.set)
			db.POST("/get", s.get)
			db.POST("/reference", s.reference)
			db.POST("/verifiable/set", s.verifiableSet)
			db.POST("/verifiable/get", s.verifiableGet)
		}
	}

	return r
}

func (s *server) login(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid login request"})
		return
	}

	if s.secret == nil || req.User != s.user || req.Password != s.password {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "invalid credentials"})
		return
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   req.User,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.New().String(),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("sign session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, api.LoginResponse{Token: signed})
}

func (s *server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.secret == nil {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: "missing bearer token"})
			return
		}

		_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
			func(tok *jwt.Token) (any, error) {
				if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
				}
				return s.secret, nil
			},
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: "invalid token"})
			return
		}

		c.Next()
	}
}

func (s *server) health(c *gin.Context) {
	resp, err := s.svc.Health(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) set(c *gin.Context) {
	var req api.SetRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.svc.Set(c.Request.Context(), c.Param("db"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) get(c *gin.Context) {
	var req api.KeyRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.svc.Get(c.Request.Context(), c.Param("db"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) reference(c *gin.Context) {
	var req api.ReferenceRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.svc.SetReference(c.Request.Context(), c.Param("db"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) verifiableSet(c *gin.Context) {
	var req api.VerifiableSetRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.svc.VerifiableSet(c.Request.Context(), c.Param("db"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) verifiableGet(c *gin.Context) {
	var req api.VerifiableGetRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.svc.VerifiableGet(c.Request.Context(), c.Param("db"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (s *server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrIllegalArguments):
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("ledger request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
	}
}
