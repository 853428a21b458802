package handlers

import (
	"net/http"
	"strconv"

	"chargehub/internal/aggregator"
	"chargehub/internal/models"
)

const defaultRadiusM = 5000

// NewNearbyHandler returns GET /stations/nearby handler. Discovery always
// answers best-effort: provider failures ride along in provider_errors.
func NewNearbyHandler(agg *aggregator.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		lat, err := strconv.ParseFloat(q.Get("lat"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid lat")
			return
		}
		lng, err := strconv.ParseFloat(q.Get("lon"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid lon")
			return
		}

		radiusM := defaultRadiusM
		if raw := q.Get("radius"); raw != "" {
			radiusM, err = strconv.Atoi(raw)
			if err != nil || radiusM <= 0 {
				writeError(w, http.StatusBadRequest, "invalid radius")
				return
			}
		}

		var filters aggregator.Filters
		if raw := q.Get("connector_type"); raw != "" {
			connector, ok := models.ParseConnectorType(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown connector type")
				return
			}
			filters.Connector = connector
		}
		if raw := q.Get("available_only"); raw != "" {
			filters.AvailableOnly, err = strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid available_only")
				return
			}
		}

		result := agg.Nearby(r.Context(), models.LatLng{Lat: lat, Lng: lng}, radiusM, filters)
		writeJSON(w, http.StatusOK, result)
	}
}

// NewStationDetailsHandler returns GET /stations/details handler.
func NewStationDetailsHandler(agg *aggregator.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		providerName := q.Get("provider")
		stationID := q.Get("station_id")
		if providerName == "" || stationID == "" {
			writeError(w, http.StatusBadRequest, "provider and station_id required")
			return
		}

		station, err := agg.StationDetails(r.Context(), providerName, stationID)
		if err != nil {
			writeError(w, http.StatusNotFound, "station not found")
			return
		}
		writeJSON(w, http.StatusOK, station)
	}
}
