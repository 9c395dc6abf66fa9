package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxsearch/internal/bootstrap"
	"voxsearch/internal/config"
	"voxsearch/internal/domain"
	"voxsearch/internal/usecase"
)

const (
	eventSession = "voxsearch:session"
	eventPartial = "voxsearch:partial"
	eventFinal   = "voxsearch:final"
	eventError   = "voxsearch:error"
	eventSearch  = "voxsearch:search"
)

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	services   *bootstrap.Services
	controller *usecase.CaptureController
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build("", a, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	if a.controller.Available() {
		a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
	} else {
		a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonUnavailable)
	}
}

func (a *App) shutdown(ctx context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Shutdown(ctx); err != nil {
		a.services.Logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
}

// StartCapture starts a recording session. trigger is "control" or "hold_to_talk".
func (a *App) StartCapture(trigger string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	t := domain.Trigger(trigger)
	if t != domain.TriggerHoldToTalk {
		t = domain.TriggerControl
	}
	if err := a.controller.Start(a.ctx, t); err != nil {
		if errors.Is(err, usecase.ErrCaptureUnavailable) {
			return a.controller.Status(), err
		}
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopCapture ends listening and waits until the session has applied its outcome.
func (a *App) StopCapture() (domain.SessionResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionResult{}, err
	}
	result, err := a.controller.Stop(a.ctx)
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return domain.SessionResult{Outcome: domain.OutcomeNoop}, nil
	}
	return result, err
}

// AbortCapture discards an in-progress recording.
func (a *App) AbortCapture() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateIdle, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle}
	}
	status := a.controller.Status()
	if status.Message == "" {
		status.Message = stateMessage(status.State)
	}
	return status
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]interface{} {
	if a.bootErr != nil {
		return map[string]interface{}{"error": a.bootErr.Error()}
	}
	if a.controller == nil {
		return map[string]interface{}{}
	}

	return map[string]interface{}{
		"apiBase":          a.cfg.API.BaseURL,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"localLanguage":    a.cfg.Local.Language,
		"metrics":          a.services.MetricsAddr(),
		"available":        a.controller.Available(),
		"tiers":            a.controller.TierAvailability(),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// PartialTranscript emits the live transcript preview.
func (a *App) PartialTranscript(text string) {
	a.send(eventPartial, map[string]string{"text": text})
}

// FinalTranscript emits the assembled transcript of a finished session.
func (a *App) FinalTranscript(text string) {
	a.send(eventFinal, map[string]string{"text": text})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// ApplySearch hands the structured search to the frontend, which owns the query and filter state.
func (a *App) ApplySearch(result domain.ExtractionResult) {
	a.send(eventSearch, result)
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func stateMessage(state domain.SessionState) string {
	switch state {
	case domain.SessionStateConnecting:
		return "Connecting…"
	case domain.SessionStateListening:
		return "Listening…"
	case domain.SessionStateFinalizing:
		return "Transcribing…"
	default:
		return ""
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonConnecting:
		return "Connecting…"
	case domain.SessionReasonTierFailed:
		return "Connection lost. Retrying…"
	case domain.SessionReasonListening:
		return "Listening…"
	case domain.SessionReasonTranscribing:
		return "Transcribing…"
	case domain.SessionReasonUnderstanding:
		return "Understanding…"
	case domain.SessionReasonSearchApplied:
		return "Search updated"
	case domain.SessionReasonRawSearch:
		return "Searching for what you said"
	case domain.SessionReasonNoTranscript:
		return "Didn't catch that"
	case domain.SessionReasonDiscarded:
		return "Recording discarded"
	case domain.SessionReasonUnavailable:
		return "Voice search unavailable"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeTransport:
		return "Transcription service issue"
	case domain.ErrorCodeExtraction:
		return "Could not understand the request"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
