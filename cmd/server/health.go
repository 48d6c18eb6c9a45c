package main

import "time"

type CheckReq struct {
	RequestID string `json:"request_id"`
}

type CheckRsp struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Instance  string `json:"instance"`
	Uptime    string `json:"uptime"`
}

// Health answers liveness checks sent through the channel fabric.
type Health struct {
	instance string
	started  time.Time
}

func NewHealth(instance string) *Health {
	return &Health{instance: instance, started: time.Now()}
}

func (h *Health) Check(args *CheckReq, reply *CheckRsp) error {
	reply.RequestID = args.RequestID
	reply.Success = true
	reply.Instance = h.instance
	reply.Uptime = time.Since(h.started).Truncate(time.Second).String()
	return nil
}
