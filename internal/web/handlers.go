package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/opengrade/marks-pipeline/internal/credential"
	"github.com/opengrade/marks-pipeline/internal/ingest"
	"github.com/opengrade/marks-pipeline/internal/logging"
)

// IngestResponse is the JSON body for accepted ingestion calls.
type IngestResponse struct {
	Message string `json:"message"`
	Rows    int    `json:"rows,omitempty"`
}

// handleIssueCredential implements POST /credential.
func (s *Server) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	var req credential.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", "REQ001")
		return
	}

	grant, err := s.issuer.Issue(r.Context(), req)
	switch {
	case errors.Is(err, credential.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "className, subjectName, teacherName, and fileName are required", "REQ002")
		return
	case errors.Is(err, credential.ErrConfiguration):
		// Descriptor contents stay out of the response.
		logging.FromContext(r.Context()).Error("credential issuance misconfigured", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal server error: storage configuration", "CFG001")
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("credential issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal server error", "SRV001")
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// handleIngest implements POST /ingest, the request-driven trigger surface.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", "REQ001")
		return
	}
	if req.ObjectName == "" || req.ClassName == "" || req.SubjectName == "" || req.TeacherName == "" {
		writeError(w, r, http.StatusBadRequest, "objectName, className, subjectName, and teacherName are required", "REQ003")
		return
	}

	res := s.processor.Ingest(r.Context(), req)
	switch res.Status {
	case ingest.StatusProcessed:
		writeJSON(w, http.StatusAccepted, IngestResponse{
			Message: "file accepted and processing completed",
			Rows:    res.Rows,
		})
	case ingest.StatusDuplicate:
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Message: "this file has already been processed",
		})
	case ingest.StatusInProgress:
		writeJSON(w, http.StatusAccepted, IngestResponse{
			Message: "processing already in progress",
		})
	default:
		body := ErrorResponse{Message: "failed to process csv file", Code: "ING001"}
		if res.Err != nil {
			body.Error = res.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// storageEvent is the notification payload posted by the object store on
// object creation (S3/MinIO bucket-notification shape).
type storageEvent struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// handleStorageEvent implements POST /events/storage, the event-driven
// trigger surface. The sender retries on non-2xx, so the handler always acks;
// idempotency is the ledger's job, not the transport's.
func (s *Server) handleStorageEvent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var event storageEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Warn("undecodable storage event", "error", err)
		writeJSON(w, http.StatusOK, map[string]int{"received": 0})
		return
	}

	ingested := 0
	for _, record := range event.Records {
		// Object keys arrive URL-encoded in bucket notifications.
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}

		if prefix := s.cfg.Ingest.EventPrefix; prefix != "" && !strings.HasPrefix(key, prefix) {
			log.Debug("event outside configured prefix", "object", key)
			continue
		}

		md, err := s.objects.Metadata(r.Context(), key)
		if err != nil {
			log.Warn("cannot read object metadata", "object", key, "error", err)
			continue
		}

		className := md["classname"]
		subjectName := md["subjectname"]
		teacherName := md["teachername"]
		if className == "" || subjectName == "" || teacherName == "" {
			// Not a marks upload. Skip without touching the ledger.
			log.Info("missing metadata, skipping file", "object", key)
			continue
		}

		res := s.processor.Ingest(r.Context(), ingest.Request{
			ObjectName:  key,
			ClassName:   className,
			SubjectName: subjectName,
			TeacherName: teacherName,
		})
		if res.Status == ingest.StatusProcessed {
			ingested++
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"received": len(event.Records),
		"ingested": ingested,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Read())
}
