package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/expense-tracker/internal/config"
	"github.com/iliyamo/expense-tracker/internal/logging"
)

// captureWriter forwards the response to the client and keeps a copy of the
// body until it grows past limit.
type captureWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.overflow {
		if cw.buf.Len()+len(b) > cw.limit {
			cw.overflow = true
			cw.buf.Reset()
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

func generationKey(prefix string, uid string) string {
	return prefix + ":gen:" + uid
}

// cacheKey scopes entries to the user and to the user's current generation,
// so one user can never be served another user's data and a write makes
// every older entry unreachable. The concrete request URI is hashed, not the
// route pattern, so /expenses/1 and /expenses/2 never share an entry.
func cacheKey(prefix, uid string, gen int64, c echo.Context) string {
	r := c.Request()
	sum := sha1.Sum([]byte(r.Method + " " + r.URL.RequestURI()))
	return fmt.Sprintf("%s:u:%s:g:%d:%x", prefix, uid, gen, sum[:])
}

// perRequestHeaders belong to the response that produced them and are never
// replayed from the cache.
var perRequestHeaders = []string{
	"X-Cache",
	echo.HeaderXRequestID,
	echo.HeaderContentLength,
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	echo.HeaderRetryAfter,
}

func currentGeneration(ctx context.Context, rdb *redis.Client, prefix, uid string) (int64, error) {
	gen, err := rdb.Get(ctx, generationKey(prefix, uid)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// NewUserCache caches successful GET responses of authenticated routes per
// user. It must run after BearerAuth. Redis failures turn it into a no-op
// for that request.
func NewUserCache(cfg config.CacheConfig, rdb *redis.Client, log logging.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid, ok := UserID(c)
			if !ok || c.Request().Method != http.MethodGet {
				return next(c)
			}
			ctx := c.Request().Context()
			u := fmt.Sprint(uid)

			gen, err := currentGeneration(ctx, rdb, cfg.Prefix, u)
			if err != nil {
				log.Warn(ctx, "cache generation lookup failed", "err", err)
				return next(c)
			}
			key := cacheKey(cfg.Prefix, u, gen, c)

			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for _, k := range perRequestHeaders {
						hdr.Del(k)
					}
					for k, vals := range hdr {
						if c.Response().Header().Get(k) != "" {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || cw.overflow {
				return nil
			}

			hdr := c.Response().Header().Clone()
			for _, k := range perRequestHeaders {
				hdr.Del(k)
			}
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := rdb.SetEx(context.WithoutCancel(ctx), key, payload, cfg.TTL).Err(); err != nil {
				log.Warn(ctx, "cache store failed", "err", err)
			}
			return nil
		}
	}
}

// InvalidateUserCache bumps the user's cache generation after every
// successful write so later GETs miss. It must run after BearerAuth.
func InvalidateUserCache(cfg config.CacheConfig, rdb *redis.Client, log logging.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if c.Request().Method == http.MethodGet {
				return err
			}
			uid, ok := UserID(c)
			if !ok || err != nil || c.Response().Status >= http.StatusMultipleChoices {
				return err
			}
			ctx := context.WithoutCancel(c.Request().Context())
			if ierr := rdb.Incr(ctx, generationKey(cfg.Prefix, fmt.Sprint(uid))).Err(); ierr != nil {
				log.Warn(ctx, "cache invalidation failed", "user_id", uid, "err", ierr)
			}
			return nil
		}
	}
}
