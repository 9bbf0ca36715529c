package web

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/store"
)

// StartSessionRequest is the body of POST /api/sessions.
type StartSessionRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=64"`
	ExamCode  string `json:"exam_code" validate:"max=32"`
}

// FrameRequest is the body of POST /api/sessions/:id/frames. An empty
// landmark list is a frame without a face; otherwise a full face mesh is
// required.
type FrameRequest struct {
	Landmarks [][3]float64 `json:"landmarks" validate:"facemesh,max=1000"`
}

// SessionView is a session snapshot plus dashboard presentation fields.
type SessionView struct {
	proctor.SessionInfo
	Color  string `json:"color"`
	Online *bool  `json:"online,omitempty"`
}

func (s *Server) view(info proctor.SessionInfo) SessionView {
	v := SessionView{SessionInfo: info, Color: info.Status.Color()}
	if online, known := s.online(info.SubjectID); known {
		v.Online = &online
		if !online {
			v.Color = proctor.StatusOffline.Color()
		}
	}
	return v
}

func (s *Server) session(c *fiber.Ctx) (*proctor.Session, error) {
	id := c.Params("id")
	sess, ok := s.monitor.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", proctor.ErrSessionNotFound, id)
	}
	return sess, nil
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleListSessions returns every active session
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	infos := s.monitor.List()
	views := make([]SessionView, len(infos))
	for i, info := range infos {
		views[i] = s.view(info)
	}
	return c.JSON(fiber.Map{
		"sessions": views,
		"count":    len(views),
	})
}

// handleStartSession opens a session
func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	sess, err := s.monitor.Start(req.SubjectID, req.ExamCode)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(s.view(sess.Info()))
}

// handleGetSession returns one session
func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(s.view(sess.Info()))
}

// handleStopSession closes a session and returns its final snapshot
func (s *Server) handleStopSession(c *fiber.Ctx) error {
	info, err := s.monitor.Stop(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(s.view(info))
}

// handleFrame runs one frame of landmarks through the subject's pipeline
func (s *Server) handleFrame(c *fiber.Ctx) error {
	var req FrameRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	frame := protocol.FrameData{Landmarks: req.Landmarks}
	r, err := s.monitor.ProcessFrame(c.UserContext(), c.Params("id"), frame.Set())
	if err != nil {
		return err
	}
	return c.JSON(r)
}

// handleReset clears the subject's debounce state
func (s *Server) handleReset(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.monitor.Reset(id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "reset", "subject_id": id})
}

// handleState returns the state machine snapshot and its description
func (s *Server) handleState(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	info := sess.Info()
	return c.JSON(fiber.Map{
		"subject_id":  info.SubjectID,
		"state":       info.State,
		"description": info.Description,
		"last":        sess.Last(),
	})
}

// filterFromQuery builds a store filter from ?session=&subject=&exam=&since=&limit=.
func filterFromQuery(c *fiber.Ctx) (store.Filter, error) {
	f := store.Filter{
		SessionID: c.Query("session"),
		SubjectID: c.Query("subject"),
		ExamCode:  c.Query("exam"),
		Limit:     c.QueryInt("limit", 0),
	}
	if f.Limit < 0 {
		return f, fiber.NewError(fiber.StatusBadRequest, "limit must not be negative")
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, fiber.NewError(fiber.StatusBadRequest, "since must be RFC3339")
		}
		f.Since = t
	}
	return f, nil
}

// handleListViolations returns stored violations
func (s *Server) handleListViolations(c *fiber.Ctx) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	vs, err := s.store.List(c.UserContext(), f)
	if err != nil {
		return err
	}
	if vs == nil {
		vs = []proctor.Violation{}
	}
	return c.JSON(fiber.Map{
		"violations": vs,
		"count":      len(vs),
	})
}

// handleStats returns monitor counters and stored per-label totals
func (s *Server) handleStats(c *fiber.Ctx) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	counts, err := s.store.CountByLabel(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"monitor": s.monitor.Stats(),
		"stored":  counts,
		"clients": fiber.Map{
			"events": s.eventsHub.ClientCount(),
			"status": s.statusHub.ClientCount(),
		},
		"dropped_broadcasts": s.eventsHub.Dropped() + s.statusHub.Dropped(),
	})
}

// handleEventsWS streams violations and presence changes, starting with the
// recent violations
func (s *Server) handleEventsWS(c *websocket.Conn) {
	s.mu.RLock()
	recent := append([]proctor.Violation(nil), s.recent...)
	s.mu.RUnlock()

	initial := make([][]byte, 0, len(recent))
	for _, v := range recent {
		if msg, err := protocol.NewMessage(protocol.TypeViolation, v); err == nil {
			if data, err := msg.Bytes(); err == nil {
				initial = append(initial, data)
			}
		}
	}
	hub.NewClient(s.eventsHub, c, initial...).Run()
}

// typeSnapshot opens every status stream.
const typeSnapshot protocol.MessageType = "snapshot"

// handleStatusWS streams per-frame status updates, starting with a snapshot
// of every session
func (s *Server) handleStatusWS(c *websocket.Conn) {
	infos := s.monitor.List()
	views := make([]SessionView, len(infos))
	for i, info := range infos {
		views[i] = s.view(info)
	}

	var initial [][]byte
	if msg, err := protocol.NewMessage(typeSnapshot, views); err == nil {
		if data, err := msg.Bytes(); err == nil {
			initial = append(initial, data)
		}
	}
	hub.NewClient(s.statusHub, c, initial...).Run()
}
