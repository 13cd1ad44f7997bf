package task

// TaskStats 汇总一批运行的状态分布，供仪表盘与 /runs/stats 使用。
type TaskStats struct {
	Total           int            `json:"total"`
	Pending         int            `json:"pending"`
	Running         int            `json:"running"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	Emailed         int            `json:"emailed"`
	ByIndustry      map[string]int `json:"by_industry,omitempty"`
	OldestUpdatedAt int64          `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64          `json:"newest_updated_at,omitempty"`
}

// SuccessRate 返回已结束运行中成功的比例，没有已结束运行时为 0。
func (s TaskStats) SuccessRate() float64 {
	finished := s.Succeeded + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(finished)
}

func (s *TaskStats) add(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if t.Result != nil && t.Result.Emailed {
		s.Emailed++
	}
	if t.Target.Industry != "" {
		if s.ByIndustry == nil {
			s.ByIndustry = make(map[string]int)
		}
		s.ByIndustry[t.Target.Industry]++
	}
	if t.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = t.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (t.UpdatedAt != 0 && t.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = t.UpdatedAt
	}
}
