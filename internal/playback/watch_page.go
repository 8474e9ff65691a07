package playback

import (
	"html/template"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lectern/lectern/internal/httputil"
)

type watchPageData struct {
	Title       string
	CourseTitle string
	VideoURL    string
	ViewerEmail string
	Nonce       string
}

var watchPageTemplate = template.Must(template.New("watch").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}} — Lectern</title>
    <style nonce="{{.Nonce}}">
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #0a1628;
            color: #ffffff;
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            min-height: 100vh;
            display: flex;
            flex-direction: column;
            align-items: center;
        }
        .container {
            max-width: 960px;
            width: 100%;
            padding: 2rem 1rem;
        }
        .player-wrapper {
            position: relative;
            overflow: hidden;
            border-radius: 8px;
            background: #000;
        }
        video {
            width: 100%;
            display: block;
        }
        .watermark {
            position: absolute;
            inset: 0;
            pointer-events: none;
            overflow: hidden;
            opacity: 0.18;
            color: #ffffff;
            font-size: 0.8rem;
            white-space: nowrap;
        }
        .watermark .row {
            position: absolute;
            left: -20%;
            width: 140%;
            transform: rotate(-18deg);
        }
        h1 {
            margin-top: 1rem;
            font-size: 1.5rem;
            font-weight: 600;
        }
        .meta {
            margin-top: 0.5rem;
            color: #94a3b8;
            font-size: 0.875rem;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="player-wrapper">
            <video id="player" controls controlslist="nodownload" disablepictureinpicture>
                <source src="{{.VideoURL}}" type="video/mp4">
                Your browser does not support video playback.
            </video>
            <div class="watermark" id="watermark"></div>
        </div>
        <h1>{{.Title}}</h1>
        <p class="meta">{{.CourseTitle}}</p>
    </div>
    <script nonce="{{.Nonce}}">
        var player = document.getElementById('player');
        var overlay = document.getElementById('watermark');
        var viewer = {{.ViewerEmail}};
        var course = {{.CourseTitle}};

        function stamp() {
            var d = new Date();
            function pad(n) { return n < 10 ? '0' + n : '' + n; }
            return d.getUTCFullYear() + '-' + pad(d.getUTCMonth() + 1) + '-' + pad(d.getUTCDate())
                + ' ' + pad(d.getUTCHours()) + ':' + pad(d.getUTCMinutes()) + ':' + pad(d.getUTCSeconds()) + ' UTC';
        }

        function renderWatermark() {
            var text = viewer + ' | ' + stamp() + ' | ' + course;
            var rows = '';
            for (var i = 0; i < 6; i++) {
                var offset = (i % 2) * 12;
                rows += '<div class="row" style="top:' + (i * 18 + 4) + '%;padding-left:' + offset + '%">'
                    + Array(4).join(text + '      ') + '</div>';
            }
            overlay.innerHTML = rows;
        }
        renderWatermark();
        setInterval(renderWatermark, 5000);

        document.addEventListener('visibilitychange', function() {
            if (document.hidden && !player.paused) {
                player.pause();
            }
        });
    </script>
</body>
</html>`))

// WatchPage renders a standalone HTML player for a lecture. The media
// token in the query string is the sole credential, so the URL from a
// play response works directly in a browser tab. The watermark overlay
// is tiled across the video and refreshed every five seconds; hiding
// the tab pauses playback.
func (h *Handler) WatchPage(w http.ResponseWriter, r *http.Request) {
	lectureID := chi.URLParam(r, "id")

	claims, err := ValidateMediaToken(h.mediaSecret, r.URL.Query().Get("token"))
	if err != nil || claims.LectureID != lectureID {
		http.NotFound(w, r)
		return
	}

	decision, err := Authorize(r.Context(), h.db, claims.ViewerID, lectureID)
	if err != nil || !decision.Allowed || !decision.Lecture.Playable() {
		http.NotFound(w, r)
		return
	}

	var viewerEmail string
	if err := h.db.QueryRow(r.Context(),
		`SELECT email FROM users WHERE id = $1`, claims.ViewerID,
	).Scan(&viewerEmail); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	videoURL, err := h.storage.GenerateDownloadURL(r.Context(), *decision.Lecture.VideoKey, presignExpiry)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := watchPageTemplate.Execute(w, watchPageData{
		Title:       decision.Lecture.Title,
		CourseTitle: decision.Lecture.CourseTitle,
		VideoURL:    videoURL,
		ViewerEmail: viewerEmail,
		Nonce:       httputil.NonceFromContext(r.Context()),
	}); err != nil {
		log.Printf("failed to render watch page: %v", err)
	}
}
