package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"

	"github.com/brije111/quietshare/internal/forward"
)

var apiKey = flag.String("api-key", "", "required bearer token (empty accepts any request)")

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if *apiKey != "" && r.Header.Get("Authorization") != "Bearer "+*apiKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var msg forward.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Error parsing body", http.StatusBadRequest)
		return
	}

	log.Printf("📡 EVENT RECEIVED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("    Request ID: %s", msg.RequestID)
	log.Printf("    Event ID:   %s", msg.EventID)
	log.Printf("    Profile:    %s", msg.Profile)
	log.Printf("    Kind:       %s", msg.Kind)
	if msg.Reason != "" {
		log.Printf("    Reason:     %s", msg.Reason)
	}
	log.Printf("    Offset:     %d samples", msg.Offset)
	log.Printf("    Payload:    %d bytes", len(msg.Payload))
	if msg.Text != "" {
		log.Printf("    Text:       %q", msg.Text)
	}
	log.Printf("    Service:    %s v%s", msg.Service.Name, msg.Service.Version)
	log.Printf("  ═══════════════════════════════════")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "received", "event_id": msg.EventID})
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	http.HandleFunc("/events", eventsHandler)

	log.Printf("🚀 Webhook echo server starting on %s", *addr)
	log.Printf("💡 Point forward.endpoint at http://localhost%s/events", strings.TrimPrefix(*addr, "0.0.0.0"))

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
