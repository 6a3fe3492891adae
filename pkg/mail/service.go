// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var ErrQueueDisabled = errors.New("mail queue is not running")

// PasswordResetRequest is delivered synchronously; the caller needs the outcome.
type PasswordResetRequest struct {
	Email     string
	Name      string
	ResetURL  string
	ExpiresIn string
}

// TaskAssignment notifies an assignee about a new task. TaskURL is derived
// from the frontend base URL and TaskID when left empty.
type TaskAssignment struct {
	AssigneeEmail   string
	AssigneeName    string
	AssignedBy      string
	TaskID          string
	TaskTitle       string
	TaskDescription string
	Project         string
	Priority        string
	DueDate         string
	EstimatedHours  string
	TaskURL         string
}

// TaskReview is the periodic summary of pending tasks for one recipient.
type TaskReview struct {
	RecipientEmail string
	RecipientName  string
	ReviewDate     string
	PendingTasks   []ReviewTask
}

// Status describes the transport the next delivery starts from.
type Status struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Security    string `json:"security"`
	QueueLength int    `json:"queueLength"`
}

// Service renders notification templates and hands them to the dispatcher,
// either synchronously or through the background queue.
type Service struct {
	dispatcher   *Dispatcher
	queue        *Queue
	brandingName string
	baseURL      string
	logger       *zap.SugaredLogger
}

// NewService creates a new mail Service. queue may be nil, in which case
// best-effort notifications are rejected with ErrQueueDisabled.
func NewService(dispatcher *Dispatcher, queue *Queue, brandingName, baseURL string, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		dispatcher:   dispatcher,
		queue:        queue,
		brandingName: brandingName,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger.Named("mail-service"),
	}
}

// Start launches the queue workers.
func (s *Service) Start() {
	if s.queue != nil {
		s.queue.Start()
	}
}

// Stop drains the queue and releases the current transport.
func (s *Service) Stop(ctx context.Context) error {
	var errs []error
	if s.queue != nil {
		s.logger.Info("Stopping mail service")
		if err := s.queue.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.dispatcher.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Send delivers msg synchronously through the dispatcher.
func (s *Service) Send(ctx context.Context, msg Message) (Result, error) {
	return s.dispatcher.Send(ctx, msg)
}

// Enqueue hands msg to the background queue.
func (s *Service) Enqueue(msg Message) (string, error) {
	if s.queue == nil {
		s.logger.Warnw("Mail queue not initialized, rejecting email",
			"receivers", len(msg.To),
			"subject", msg.Subject)
		return "", ErrQueueDisabled
	}
	return s.queue.Enqueue(msg)
}

// SendPasswordReset renders and sends the reset mail, returning the delivery
// error to the caller.
func (s *Service) SendPasswordReset(ctx context.Context, req PasswordResetRequest) (Result, error) {
	if strings.TrimSpace(req.Email) == "" {
		return Result{}, fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	body, err := RenderPasswordReset(PasswordResetParams{
		Name:         req.Name,
		ResetURL:     req.ResetURL,
		ExpiresIn:    req.ExpiresIn,
		BrandingName: s.brandingName,
	})
	if err != nil {
		return Result{}, err
	}

	res, err := s.dispatcher.Send(ctx, Message{
		To:      []string{req.Email},
		Subject: PasswordResetSubject(),
		HTML:    body,
	})
	if err != nil {
		s.logger.Errorw("Password reset mail failed", "error", err)
		return Result{}, err
	}
	s.logger.Infow("Password reset mail sent", "messageId", res.MessageID, "transport", res.Transport)
	return res, nil
}

// NotifyTaskAssigned queues the assignment notice and returns the queue id.
func (s *Service) NotifyTaskAssigned(a TaskAssignment) (string, error) {
	if strings.TrimSpace(a.AssigneeEmail) == "" {
		return "", fmt.Errorf("%w: missing assignee email", ErrInvalidMessage)
	}
	taskURL := a.TaskURL
	if taskURL == "" && a.TaskID != "" && s.baseURL != "" {
		taskURL = s.baseURL + "/tasks/" + url.PathEscape(a.TaskID)
	}

	body, err := RenderTaskAssignment(TaskAssignmentParams{
		AssigneeName:    a.AssigneeName,
		AssignedBy:      a.AssignedBy,
		TaskTitle:       a.TaskTitle,
		TaskDescription: a.TaskDescription,
		Project:         a.Project,
		Priority:        a.Priority,
		DueDate:         a.DueDate,
		EstimatedHours:  a.EstimatedHours,
		TaskURL:         taskURL,
		BrandingName:    s.brandingName,
	})
	if err != nil {
		return "", err
	}
	return s.Enqueue(Message{
		To:      []string{a.AssigneeEmail},
		Subject: TaskAssignmentSubject(a.TaskTitle),
		HTML:    body,
	})
}

// NotifyTaskReview queues the pending-task summary for one recipient.
func (s *Service) NotifyTaskReview(r TaskReview) (string, error) {
	if strings.TrimSpace(r.RecipientEmail) == "" {
		return "", fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	dashboard := ""
	if s.baseURL != "" {
		dashboard = s.baseURL + "/tasks"
	}
	body, err := RenderTaskReview(TaskReviewParams{
		RecipientName: r.RecipientName,
		ReviewDate:    r.ReviewDate,
		PendingTasks:  r.PendingTasks,
		DashboardURL:  dashboard,
		BrandingName:  s.brandingName,
	})
	if err != nil {
		return "", err
	}
	return s.Enqueue(Message{
		To:      []string{r.RecipientEmail},
		Subject: TaskReviewSubject(r.ReviewDate),
		HTML:    body,
	})
}

// Status reports the transport the next delivery starts from.
func (s *Service) Status() Status {
	idx, cfg := s.dispatcher.Current()
	st := Status{
		Index:    idx,
		Name:     cfg.Name,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Security: string(cfg.Security),
	}
	if s.queue != nil {
		st.QueueLength = s.queue.Length()
	}
	return st
}
