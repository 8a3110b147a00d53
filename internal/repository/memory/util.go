package memory

import "time"

func copyAttrs(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func unixUTC(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func timePtr(t time.Time) *time.Time { return &t }

func paginate(total, limit, offset int) (int, int) {
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
