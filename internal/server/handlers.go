package server

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/finlens-poc/server/internal/analysis/session"
	"github.com/finlens-poc/server/internal/analysis/stream"
	logx "github.com/finlens-poc/server/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Data Analysis Agent Backend is running"})
}

func (s *Server) handleVerifyAuth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "authenticated"})
}

// verifyToken checks the admin token header. An empty configured token leaves
// the API open for development.
func (s *Server) verifyToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.AdminToken == "" {
			return next(c)
		}
		token := c.Request().Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid admin token")
		}
		return next(c)
	}
}

func (s *Server) handleAnalyze(c echo.Context) error {
	file, err := readUpload(c)
	if err != nil {
		return err
	}
	query := c.FormValue("query")
	model := c.FormValue("model")

	return s.streamNDJSON(c, func(sink stream.Sink) error {
		return s.manager.Analyze(c.Request().Context(), file, query, model, sink)
	})
}

func (s *Server) handleCreateChat(c echo.Context) error {
	file, err := readUpload(c)
	if err != nil {
		return err
	}
	model := c.FormValue("model")
	if model == "" {
		model = s.manager.DefaultModel()
	}

	chatID, err := s.manager.CreateChat(c.Request().Context(), file, model)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"chat_id": chatID, "model": model})
}

func (s *Server) handleSendMessage(c echo.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	chatID := c.Param("chat_id")

	return s.streamNDJSON(c, func(sink stream.Sink) error {
		return s.manager.SendMessage(c.Request().Context(), chatID, body.Message, sink)
	})
}

func (s *Server) handleDeleteChat(c echo.Context) error {
	chatID := c.Param("chat_id")
	if err := s.manager.DeleteChat(c.Request().Context(), chatID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Chat " + chatID + " deleted successfully"})
}

// readUpload extracts an optional multipart file into memory. A request
// without a file part is not an error.
func readUpload(c echo.Context) (*session.FileUpload, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, nil
	}

	f, err := header.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unable to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unable to read uploaded file")
	}

	return &session.FileUpload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get(echo.HeaderContentType),
	}, nil
}

// streamNDJSON runs fn with a sink that writes one flushed NDJSON line per
// snapshot. Errors raised before the first line map to a proper status;
// afterwards the 200 is already on the wire and the client detects the
// truncation by the absent terminal cost fragment.
func (s *Server) streamNDJSON(c echo.Context, fn func(stream.Sink) error) error {
	resp := c.Response()
	wroteAny := false

	sink := func(line []byte) error {
		if !wroteAny {
			resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
			resp.WriteHeader(http.StatusOK)
			wroteAny = true
		}
		if _, err := resp.Write(line); err != nil {
			return err
		}
		resp.Flush()
		return nil
	}

	if err := fn(sink); err != nil {
		if !wroteAny {
			return err
		}
		logx.Error().Err(err).Str("path", c.Path()).Msg("stream terminated mid-sequence")
	}
	return nil
}
