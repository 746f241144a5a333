package api

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = "unavailable"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
			h.Logger.Warn("dependency check failed", "component", component, "error", err)
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2+len(h.Checks))
	components = append(components, recordComponent("database", h.Repo.Ping(ctx)))
	if h.Recordings != nil {
		components = append(components, recordComponent("recordings", h.Recordings.Check()))
	}
	for _, check := range h.Checks {
		components = append(components, recordComponent(check.Component, check.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}
