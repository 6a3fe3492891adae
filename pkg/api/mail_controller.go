// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/apiresponses"
	"github.com/telekom/taskmail/pkg/mail"
	"github.com/telekom/taskmail/pkg/metrics"
	"github.com/telekom/taskmail/pkg/ratelimit"
	"github.com/telekom/taskmail/pkg/system"
)

type sendRequest struct {
	To      []string `json:"to" binding:"required"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	From    string   `json:"from"`
	ReplyTo string   `json:"replyTo"`
}

type passwordResetRequest struct {
	Email     string `json:"email" binding:"required"`
	Name      string `json:"name"`
	ResetURL  string `json:"resetURL"`
	ExpiresIn string `json:"expiresIn"`
}

type taskAssignmentRequest struct {
	AssigneeEmail   string `json:"assigneeEmail" binding:"required"`
	AssigneeName    string `json:"assigneeName"`
	AssignedBy      string `json:"assignedBy"`
	TaskID          string `json:"taskId"`
	TaskTitle       string `json:"taskTitle"`
	TaskDescription string `json:"taskDescription"`
	Project         string `json:"project"`
	Priority        string `json:"priority"`
	DueDate         string `json:"dueDate"`
	// EstimatedHours is accepted as a JSON number or string.
	EstimatedHours any    `json:"estimatedHours"`
	TaskURL        string `json:"taskUrl"`
}

type reviewTaskRequest struct {
	Title   string `json:"title"`
	DueDate string `json:"dueDate"`
	Status  string `json:"status"`
}

type taskReviewRequest struct {
	RecipientEmail string              `json:"recipientEmail" binding:"required"`
	RecipientName  string              `json:"recipientName"`
	ReviewDate     string              `json:"reviewDate"`
	PendingTasks   []reviewTaskRequest `json:"pendingTasks"`
}

type SendResponse struct {
	MessageID string `json:"messageId"`
	Transport string `json:"transport,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

type QueuedResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
}

// MailController exposes the mail service to the task tracker backend.
type MailController struct {
	service      *mail.Service
	auth         *TokenAuth
	resetLimiter *ratelimit.Limiter
	log          *zap.SugaredLogger
}

func NewMailController(log *zap.SugaredLogger, service *mail.Service, auth *TokenAuth) *MailController {
	return &MailController{
		service:      service,
		auth:         auth,
		resetLimiter: ratelimit.New(ratelimit.DefaultPasswordResetConfig(), nil),
		log:          log.Named("mail-api"),
	}
}

func (mc *MailController) BasePath() string {
	return "mail"
}

func (mc *MailController) Handlers() []gin.HandlerFunc {
	return []gin.HandlerFunc{mc.instrument, mc.auth.Middleware()}
}

func (mc *MailController) Register(rg *gin.RouterGroup) error {
	rg.POST("send", mc.handleSend)
	rg.POST("password-reset", mc.handlePasswordReset)
	rg.POST("task-assignment", mc.handleTaskAssignment)
	rg.POST("task-review", mc.handleTaskReview)
	rg.GET("status", mc.handleStatus)
	return nil
}

// Stop releases the password reset limiter.
func (mc *MailController) Stop() {
	mc.resetLimiter.Stop()
}

func (mc *MailController) instrument(c *gin.Context) {
	c.Next()
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unmatched"
	}
	metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
}

func (mc *MailController) reqLogger(c *gin.Context) *zap.SugaredLogger {
	return system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, mc.log))
}

func (mc *MailController) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}

	log := mc.reqLogger(c)
	res, err := mc.service.Send(c.Request.Context(), mail.Message{
		To:      req.To,
		Subject: req.Subject,
		HTML:    req.HTML,
		From:    req.From,
		ReplyTo: req.ReplyTo,
	})
	if err != nil {
		mc.respondSendError(c, "send mail", err, log)
		return
	}
	log.Infow("Mail sent", "messageId", res.MessageID, "transport", res.Transport, "recipients", len(req.To))
	apiresponses.RespondOK(c, SendResponse{MessageID: res.MessageID, Transport: res.Transport, Attempts: res.Attempts})
}

func (mc *MailController) handlePasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}
	if !mc.resetLimiter.Allow("email:" + strings.ToLower(strings.TrimSpace(req.Email))) {
		apiresponses.RespondTooManyRequests(c, "too many password reset mails for this address")
		return
	}

	log := mc.reqLogger(c)
	res, err := mc.service.SendPasswordReset(c.Request.Context(), mail.PasswordResetRequest{
		Email:     req.Email,
		Name:      req.Name,
		ResetURL:  req.ResetURL,
		ExpiresIn: req.ExpiresIn,
	})
	if err != nil {
		mc.respondSendError(c, "send password reset mail", err, log)
		return
	}
	log.Infow("Password reset mail sent", "messageId", res.MessageID, "transport", res.Transport)
	apiresponses.RespondOK(c, SendResponse{MessageID: res.MessageID, Transport: res.Transport, Attempts: res.Attempts})
}

func (mc *MailController) handleTaskAssignment(c *gin.Context) {
	var req taskAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}

	id, err := mc.service.NotifyTaskAssigned(mail.TaskAssignment{
		AssigneeEmail:   req.AssigneeEmail,
		AssigneeName:    req.AssigneeName,
		AssignedBy:      req.AssignedBy,
		TaskID:          req.TaskID,
		TaskTitle:       req.TaskTitle,
		TaskDescription: req.TaskDescription,
		Project:         req.Project,
		Priority:        req.Priority,
		DueDate:         req.DueDate,
		EstimatedHours:  formatHours(req.EstimatedHours),
		TaskURL:         req.TaskURL,
	})
	if err != nil {
		mc.respondEnqueueError(c, "queue task assignment mail", err)
		return
	}
	mc.reqLogger(c).Debugw("Task assignment mail queued", "id", id, "taskId", req.TaskID)
	apiresponses.RespondAccepted(c, QueuedResponse{Queued: true, ID: id})
}

func (mc *MailController) handleTaskReview(c *gin.Context) {
	var req taskReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}

	tasks := make([]mail.ReviewTask, 0, len(req.PendingTasks))
	for _, t := range req.PendingTasks {
		tasks = append(tasks, mail.ReviewTask{Title: t.Title, DueDate: t.DueDate, Status: t.Status})
	}
	id, err := mc.service.NotifyTaskReview(mail.TaskReview{
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
		ReviewDate:     req.ReviewDate,
		PendingTasks:   tasks,
	})
	if err != nil {
		mc.respondEnqueueError(c, "queue task review mail", err)
		return
	}
	mc.reqLogger(c).Debugw("Task review mail queued", "id", id, "pendingTasks", len(tasks))
	apiresponses.RespondAccepted(c, QueuedResponse{Queued: true, ID: id})
}

func (mc *MailController) handleStatus(c *gin.Context) {
	apiresponses.RespondOK(c, mc.service.Status())
}

// respondSendError maps a synchronous delivery failure. Relay details stay in
// the log; the caller only sees a generic message.
func (mc *MailController) respondSendError(c *gin.Context, op string, err error, log *zap.SugaredLogger) {
	if errors.Is(err, mail.ErrInvalidMessage) {
		apiresponses.RespondBadRequestWithDetails(c, "invalid message", err.Error())
		return
	}
	apiresponses.RespondInternalError(c, op, err, log)
}

func (mc *MailController) respondEnqueueError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, mail.ErrInvalidMessage):
		apiresponses.RespondBadRequestWithDetails(c, "invalid message", err.Error())
	case errors.Is(err, mail.ErrQueueFull), errors.Is(err, mail.ErrQueueStopping), errors.Is(err, mail.ErrQueueDisabled):
		mc.reqLogger(c).Warnw("Mail queue rejected message", "operation", op, "error", err)
		apiresponses.RespondServiceUnavailable(c, "mail queue")
	default:
		apiresponses.RespondInternalError(c, op, err, mc.reqLogger(c))
	}
}

func formatHours(v any) string {
	switch h := v.(type) {
	case nil:
		return ""
	case string:
		return h
	case float64:
		return strconv.FormatFloat(h, 'f', -1, 64)
	default:
		return fmt.Sprint(h)
	}
}
