package api

// CreateHiveRequest is the body of POST /hives.
type CreateHiveRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateColonyRequest is the body of POST /hives/:id/colonies.
type CreateColonyRequest struct {
	Name string `json:"name"`
	Goal string `json:"goal,omitempty"`
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Goal     string `json:"goal"`
	ColonyID string `json:"colony_id,omitempty"`
}

// CreateTaskRequest is the body of POST /runs/:id/tasks.
type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// CompleteTaskRequest is the body of POST /runs/:id/tasks/:tid/complete.
type CompleteTaskRequest struct {
	Result map[string]any `json:"result"`
}

// CompleteRunRequest is the body of POST /runs/:id/complete.
type CompleteRunRequest struct {
	Summary string `json:"summary"`
}

// EmergencyStopRequest is the body of POST /runs/:id/emergency-stop.
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}
