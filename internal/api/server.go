// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"glucosense/internal/domain"
	"glucosense/internal/service"
)

// Predictor is the subset of *service.Pipeline the handlers need.
type Predictor interface {
	State() service.State
	DefaultK() int
	DisplayFields() []string
	Predict(ctx context.Context, record domain.PatientRecord, k int) (domain.Result, error)
	Explain(ctx context.Context, record domain.PatientRecord, k int) (domain.Result, error)
}

// PredictRequest is the body of POST /v1/predict.
type PredictRequest struct {
	Record  map[string]any `json:"record" binding:"required"`
	K       int            `json:"k"`
	Explain bool           `json:"explain"`
}

// CaseView is a similar case projected onto the display fields.
type CaseView struct {
	Row      int                `json:"row"`
	Distance float64            `json:"distance"`
	Fields   map[string]float64 `json:"fields"`
}

// PredictResponse is the body returned by POST /v1/predict.
type PredictResponse struct {
	RequestID        string     `json:"request_id"`
	Probability      float64    `json:"probability"`
	Label            int        `json:"label"`
	LabelName        string     `json:"label_name"`
	Tier             string     `json:"tier"`
	SimilarCases     []CaseView `json:"similar_cases"`
	Explanation      string     `json:"explanation,omitempty"`
	ExplanationModel string     `json:"explanation_model,omitempty"`
	ExplanationError string     `json:"explanation_error,omitempty"`
}

// Config tunes the HTTP server.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
}

// Server wires the handlers onto a gin engine.
type Server struct {
	cfg    Config
	pred   Predictor
	gather prometheus.Gatherer
	log    *zap.Logger
	engine *gin.Engine
}

// NewServer builds the router. gather may be nil to omit /metrics.
func NewServer(cfg Config, pred Predictor, gather prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, pred: pred, gather: gather, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(log))
	r.GET("/healthz", s.health)
	if gather != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gather, promhttp.HandlerOpts{})))
	}
	v1 := r.Group("/v1", Timeout(cfg.RequestTimeout))
	v1.POST("/predict", s.predict)
	s.engine = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	state := s.pred.State()
	status := http.StatusOK
	if state != service.Indexed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": state.String()})
}

func (s *Server) predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if req.K < 0 {
		s.fail(c, http.StatusBadRequest, errors.New("k must be positive"))
		return
	}
	record, err := domain.ParseRecord(req.Record)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}

	k := req.K
	if k == 0 {
		k = s.pred.DefaultK()
	}
	run := s.pred.Predict
	if req.Explain {
		run = s.pred.Explain
	}
	res, err := run(c.Request.Context(), record, k)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, s.render(c.GetString("request_id"), res))
}

func (s *Server) render(id string, res domain.Result) PredictResponse {
	fields := s.pred.DisplayFields()
	cases := make([]CaseView, len(res.SimilarCases))
	for i, sc := range res.SimilarCases {
		cases[i] = CaseView{Row: sc.Row, Distance: sc.Distance, Fields: sc.Display(fields)}
	}
	return PredictResponse{
		RequestID:        id,
		Probability:      res.Probability,
		Label:            res.Label,
		LabelName:        domain.LabelName(res.Label),
		Tier:             string(res.Tier),
		SimilarCases:     cases,
		Explanation:      res.Explanation,
		ExplanationModel: res.ExplanationModel,
		ExplanationError: res.ExplanationError,
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
	}
	body := gin.H{"status": "error", "message": err.Error(), "request_id": c.GetString("request_id")}
	var mf *domain.MissingFeatureError
	if errors.As(err, &mf) {
		body["missing"] = mf.Fields
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
