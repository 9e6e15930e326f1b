package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/hunt"
	"github.com/playperu/questhunt/internal/location"
)

// LocationFrame is sent by the client on the location stream. Denied marks
// that the device refused location access.
type LocationFrame struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Denied bool    `json:"denied,omitempty"`
}

// LocationReply is sent by the server after a poll changed something or a
// frame was rejected.
type LocationReply struct {
	Type  string              `json:"type"`
	Fence *engine.FenceResult `json:"fence,omitempty"`
	Error string              `json:"error,omitempty"`
	Code  hunt.Code           `json:"code,omitempty"`
}

// handleLocationStream accepts positions over a WebSocket and records the
// latest one every interval. Frames arriving between polls only replace the
// pending position.
func handleLocationStream(logger *slog.Logger, tracker *engine.Tracker, broker *Broker, interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		var writeMu sync.Mutex
		reply := func(ctx context.Context, msg LocationReply) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return wsjson.Write(ctx, conn, msg)
		}

		feed := location.NewFeed()
		poller := location.NewPoller(feed, interval, func(ctx context.Context, pos hunt.LatLng) error {
			res, err := tracker.Record(ctx, user.ID, pos)
			if err != nil {
				return err
			}
			if res.Event == engine.FenceNone {
				return nil
			}
			publishFence(broker, user.TeamID, res)
			return reply(ctx, LocationReply{Type: "fence", Fence: res})
		}, logger)

		g, gctx := errgroup.WithContext(r.Context())

		g.Go(func() error {
			err := poller.Run(gctx)
			if errors.Is(err, hunt.ErrPermissionDenied) {
				conn.Close(websocket.StatusPolicyViolation, "location permission denied")
			}
			return err
		})

		// Reading on the request context keeps the connection open until the
		// client or the poller closes it.
		g.Go(func() error {
			ctx := r.Context()
			for {
				var frame LocationFrame
				if err := wsjson.Read(ctx, conn, &frame); err != nil {
					return err
				}
				if frame.Denied {
					feed.Deny()
					continue
				}
				if err := feed.Push(hunt.LatLng{Lat: frame.Lat, Lng: frame.Lng}); err != nil {
					if werr := reply(ctx, LocationReply{Type: "error", Error: err.Error(), Code: hunt.CodeOf(err)}); werr != nil {
						return werr
					}
				}
			}
		})

		err = g.Wait()
		if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			logger.Debug("location stream ended", "user_id", user.ID, "error", err)
		}
	}
}
