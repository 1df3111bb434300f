package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerPublicDomainRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/matches/{matchID}/timeline", handler.GetMatchTimeline)
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("GET /v1/internal/jobs/fetch", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.ListFetchJobs)))
	mux.Handle("POST /v1/internal/jobs/ingest", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunIngestJob)))
	mux.Handle("POST /v1/internal/jobs/enrich", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunEnrichJob)))
	mux.Handle("POST /v1/internal/jobs/refresh", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunRefreshJob)))
	mux.Handle("POST /v1/internal/jobs/refresh/{name}", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RefreshOneAggregate)))
}
