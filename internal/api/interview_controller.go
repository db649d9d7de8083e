package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/store"
)

type interviewController struct {
	store    store.Store
	issuer   *auth.Issuer
	validate *validator.Validate
	opts     Options
}

func newInterviewController(st store.Store, issuer *auth.Issuer, opts Options) *interviewController {
	return &interviewController{store: st, issuer: issuer, validate: validator.New(), opts: opts}
}

func (c *interviewController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/interviews")
	h.Use(JWTMiddleware(c.issuer))
	h.Post("", c.Create)
	h.Get(":id", c.Show)
	h.Post(":id/worker-token", c.WorkerToken)
	h.Post(":id/ws-token", c.SessionToken)
}

// Create is idempotent per (user, idempotencyKey): a repeat returns the
// existing interview with 200 instead of 201.
func (c *interviewController) Create(ctx *fiber.Ctx) error {
	var req CreateInterviewRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := c.validate.Struct(req); err != nil {
		return err
	}

	iv, created, err := c.store.CreateInterview(ctx.UserContext(), req.toModel(userID(ctx)))
	if err != nil {
		return err
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
		logger := observability.GetLogger()
		logger.Info().
			Str("interview_id", iv.ID).
			Int("blocks", len(iv.Blocks)).
			Msg("interview created")
	}
	return ctx.Status(status).JSON(success("interview", toInterviewResponse(iv)))
}

func (c *interviewController) Show(ctx *fiber.Ctx) error {
	iv, err := c.owned(ctx, ctx.QueryBool("feedback"))
	if err != nil {
		return err
	}
	return ctx.JSON(success("interview", toInterviewResponse(iv)))
}

// WorkerToken mints a worker-scoped token for an interview that has not started.
func (c *interviewController) WorkerToken(ctx *fiber.Ctx) error {
	iv, err := c.owned(ctx, false)
	if err != nil {
		return err
	}
	if iv.InterviewStatus() != protocol.StatusPending {
		return ErrNotPending
	}

	token, expires, err := c.issuer.Issue(auth.ScopeWorker, iv.UserID, iv.ID, c.opts.WorkerTokenTTL)
	if err != nil {
		return err
	}
	return ctx.JSON(success("worker token", TokenResponse{Token: token, ExpiresAt: expires}))
}

// SessionToken mints the token a client presents to the relay.
func (c *interviewController) SessionToken(ctx *fiber.Ctx) error {
	iv, err := c.owned(ctx, false)
	if err != nil {
		return err
	}
	if iv.InterviewStatus().Terminal() {
		return ErrInterviewClosed
	}

	token, expires, err := c.issuer.Issue(auth.ScopeSession, iv.UserID, iv.ID, c.opts.SessionTokenTTL)
	if err != nil {
		return err
	}
	return ctx.JSON(success("websocket token", TokenResponse{
		Token:     token,
		ExpiresAt: expires,
		WorkerURL: c.opts.WorkerURL,
	}))
}

// owned loads the interview in the path. Interviews of other users are reported as missing.
func (c *interviewController) owned(ctx *fiber.Ctx, withFeedback bool) (*store.Interview, error) {
	iv, err := c.store.GetInterview(ctx.UserContext(), ctx.Params("id"), withFeedback)
	if err != nil {
		return nil, err
	}
	if iv.UserID != userID(ctx) {
		return nil, store.ErrNotFound
	}
	return iv, nil
}
