package pubsub

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ServeSSE streams hub events to one admin session as Server-Sent Events.
// Alert events carry a JSON body; change notifications have an empty data
// line. The subscription lives exactly as long as the request.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Subscribe(r.Context())
	defer sub.Close()

	for evt := range sub.C {
		fmt.Fprintf(w, "event: %s\n", evt.Name)
		if evt.Payload != nil {
			data, err := json.Marshal(evt.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
		} else {
			fmt.Fprint(w, "data: \n\n")
		}
		flusher.Flush()
	}
}
