package model

// QueueRow 一条待发送的（职位, 匹配顾问）通知
// 由职位发布时按服务类别匹配生成，dispatch 只读
type QueueRow struct {
	LogID              int64  `json:"log_id"`
	RecipientEmail     string `json:"recipient_email"`
	CategoryName       string `json:"category_name"`
	JobID              string `json:"job_id"`
	JobTitle           string `json:"job_title"`
	JobLocation        string `json:"job_location"`
	ListingType        string `json:"listing_type"`
	DescriptionPreview string `json:"description_preview"`
}

// Status 通知行的终态
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// DeliveryResult 每次 dispatch 中每行恰好一个
type DeliveryResult struct {
	LogID  int64  `json:"log_id"`
	Status Status `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
	// Recorded 为 false 表示状态写回失败：sent 且未记录 = 已投递但库里看不到
	Recorded bool `json:"recorded"`
	// Recovered 表示之前的调用已投递过，本次只补写状态
	Recovered bool `json:"recovered,omitempty"`
}

// Summary 一次 dispatch 的汇总
type Summary struct {
	Sent    int              `json:"sent"`
	Total   int              `json:"total"`
	Results []DeliveryResult `json:"results,omitempty"`
}

// Failed 返回失败行数
func (s *Summary) Failed() int {
	return s.Total - s.Sent
}

// Unrecorded 返回状态写回失败的行数
func (s *Summary) Unrecorded() int {
	n := 0
	for _, r := range s.Results {
		if !r.Recorded {
			n++
		}
	}
	return n
}
