package main

import (
	"encoding/json"
	"net/http"

	"github.com/kmzbrnoi/ac-go/ac"
)

type StatusResult struct {
	Version string `json:"version"`
	ac.ClientStatus
}

// serves the client status as JSON
type Status struct {
	client *ac.PanelClient
}

func NewStatus(client *ac.PanelClient) *Status {
	return &Status{
		client: client,
	}
}

func (self *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result := &StatusResult{
		Version:      AcCtlVersion,
		ClientStatus: self.client.Status(),
	}

	responseJson, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJson)
}
