package httpapi

import (
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	list, err := s.tasks.ListTasks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (s *Server) handleTasksLatest(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	list, err := s.tasks.ListLatestTasks(r.Context(), r.URL.Query().Get("assignee"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

type createTaskRequest struct {
	ActorID      string `json:"actorId"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Project      string `json:"project,omitempty"`
	AssignedTo   string `json:"assignedTo,omitempty"`
	Status       string `json:"status,omitempty"`
	StatusReason string `json:"statusReason,omitempty"`
}

func (s *Server) handleTasksCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.tasks.CreateTask(r.Context(), req.ActorID, tasks.Draft{
		Title:        req.Title,
		Description:  req.Description,
		Project:      req.Project,
		AssignedTo:   req.AssignedTo,
		Status:       req.Status,
		StatusReason: req.StatusReason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

type taskStatusRequest struct {
	ActorID string `json:"actorId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.tasks.UpdateTaskStatus(r.Context(), req.ActorID, r.PathValue("id"), req.Status, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

type taskEntryRequest struct {
	ActorID string `json:"actorId"`
	Content string `json:"content"`
}

// entryHandler appends to one of the task side tables.
func (s *Server) entryHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req taskEntryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var (
			task tasks.Task
			err  error
		)
		switch kind {
		case "blocker":
			task, err = s.tasks.AddBlocker(r.Context(), req.ActorID, r.PathValue("id"), req.Content)
		case "artifact":
			task, err = s.tasks.AddArtifact(r.Context(), req.ActorID, r.PathValue("id"), req.Content)
		default:
			task, err = s.tasks.AddWorklog(r.Context(), req.ActorID, r.PathValue("id"), req.Content)
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})
	}
}

type deleteTasksRequest struct {
	ActorID string   `json:"actorId"`
	TaskIDs []string `json:"taskIds"`
}

func (s *Server) handleTasksDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteTasksRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.tasks.DeleteTasks(r.Context(), req.ActorID, req.TaskIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
