/*
Package http exposes an Engine over HTTP.

Routes:

	GET  /health                 liveness check
	GET  /info                   build information
	GET  /snapshot               current engine snapshot
	GET  /events                 websocket stream of bus events (?types=a,b filters)
	GET  /metrics                Prometheus metrics (when a gatherer is configured)
	POST /session/start          boot -> gameplay
	POST /session/pause          pause the session
	POST /session/resume         resume the session
	POST /session/exit           return to the frontend
	POST /session/reset          restart the current run {"reason": "..."}
	POST /session/level          change level {"scenes": ["..."]}
	POST /session/content-swap   in-place world reset (domain.ResetRequest body)
	POST /intro/complete         complete the intro stage
	POST /intro/skip             skip the intro stage
	POST /run/victory            end the run as a victory
	POST /run/defeat             end the run as a defeat
*/
package http
