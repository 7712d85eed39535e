// Package server exposes the exchange over HTTP and streams events to
// websocket observers. It holds no engine logic: handlers call the engine,
// ledger, and store, and render JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/engine"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/ledger"
	"github.com/glazeworks/donutex/pkg/store"
)

const defaultTxLimit = 50

// Server wires the exchange to echo.
type Server struct {
	srv *echo.Echo
	eng *engine.Engine
	led *ledger.Ledger
	bc  *events.Broadcaster
	st  store.Store
	log zerolog.Logger
}

// New builds the server and registers every route.
func New(eng *engine.Engine, led *ledger.Ledger, bc *events.Broadcaster, st store.Store, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		srv: e,
		eng: eng,
		led: led,
		bc:  bc,
		st:  st,
		log: log.With().Str("component", "server").Logger(),
	}

	e.Use(count)

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":    "donutex",
			"version": "0.1",
		})
	})

	e.GET("/products", s.getProducts)
	e.GET("/outlets", s.getOutlets)
	e.GET("/outlets/:id/stats", s.getOutletStats)
	e.POST("/outlets/:id/margin", s.setMargin)
	e.POST("/outlets/:id/open", s.setOpen)
	e.POST("/outlets/open", s.setAllOpen)
	e.GET("/leaderboard", s.getLeaderboard)
	e.GET("/book/:productId", s.getBook)
	e.GET("/transactions", s.getTransactions)
	e.POST("/orders", s.submitOrder)
	e.GET("/orders/:id", s.getOrder)
	e.GET("/ws", s.handleWS)

	e.GET("/metrics", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/plain")
		c.Response().WriteHeader(http.StatusOK)
		metrics.WritePrometheus(c.Response(), true)
		return nil
	})

	return s
}

// Run starts serving on addr and blocks.
func (s *Server) Run(addr string) error {
	s.log.Info().Str("addr", addr).Msg("listening")
	return s.srv.Start(addr)
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getProducts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.eng.Products())
}

func (s *Server) getOutlets(c echo.Context) error {
	return c.JSON(http.StatusOK, s.led.RetailOutlets())
}

func (s *Server) getOutletStats(c echo.Context) error {
	stats, err := s.led.Stats(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) setMargin(c echo.Context) error {
	var body struct {
		MarginPercent decimal.Decimal `json:"marginPercent"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.led.SetMargin(c.Param("id"), body.MarginPercent); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setOpen(c echo.Context) error {
	var body struct {
		IsOpen bool `json:"isOpen"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.led.SetOpen(c.Param("id"), body.IsOpen); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setAllOpen(c echo.Context) error {
	var body struct {
		IsOpen bool `json:"isOpen"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.led.SetAllOpen(body.IsOpen); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getLeaderboard(c echo.Context) error {
	return c.JSON(http.StatusOK, s.led.Leaderboard())
}

func (s *Server) getBook(c echo.Context) error {
	includeTerminal, _ := strconv.ParseBool(c.QueryParam("includeTerminal"))
	snap, err := s.eng.Snapshot(c.Param("productId"), includeTerminal)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) getTransactions(c echo.Context) error {
	limit := defaultTxLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	var txs []donut.Transaction
	var err error
	if productID := c.QueryParam("productId"); productID != "" {
		txs, err = s.st.FindTransactionsByProduct(productID, limit)
	} else {
		txs, err = s.st.FindRecentTransactions(limit)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, txs)
}

func (s *Server) submitOrder(c echo.Context) error {
	var req engine.OrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, err := s.eng.SubmitOrder(req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (s *Server) getOrder(c echo.Context) error {
	order, err := s.eng.FindOrder(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, order)
}

// httpError maps domain errors onto status codes: unknown ids are 404,
// validation failures are 400.
func httpError(err error) error {
	switch {
	case errors.Is(err, donut.ErrUnknownOutlet),
		errors.Is(err, donut.ErrUnknownProduct),
		errors.Is(err, donut.ErrUnknownOrder):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, donut.ErrOutletClosed),
		errors.Is(err, donut.ErrBadQuantity),
		errors.Is(err, donut.ErrBadPrice),
		errors.Is(err, donut.ErrInsufficientInventory):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// count is the request counter middleware.
func count(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := metrics.GetOrCreateCounter(fmt.Sprintf(`requests_total{path=%q}`, c.Path()))
		path.Inc()
		counter := metrics.GetOrCreateCounter(`request_total`)
		counter.Add(1)
		return next(c)
	}
}
