package result

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wwwzy/SREAgent/internal/engine"
)

// 审批结论
const (
	ApprovalApproved            = "APPROVED"
	ApprovalApprovedWithCaution = "APPROVED_WITH_CAUTION"
	ApprovalRejected            = "REJECTED"
	ApprovalRequiresHuman       = "REQUIRES_HUMAN_APPROVAL"
)

// Decision 是 action 团队最后一条消息中的审批结论。
type Decision struct {
	Approval   string  `json:"approval"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// approvalSource 为给出最终结论的 agent。
const approvalSource = "approval_agent"

var confidencePattern = regexp.MustCompile(`CONFIDENCE[:\s]+(\d+\.?\d*)`)

// ExtractDecision 解析 approval_agent 最近一条消息中的 DECISION 与 CONFIDENCE 行；
// 它没有发言时退回到最后一条 agent 消息。
// 没有消息时视为拒绝；无法识别结论时需要人工审批。
func ExtractDecision(events []engine.Event) Decision {
	last := lastMessage(events, approvalSource)
	if last == nil {
		last = lastMessage(events, "")
	}
	if last == nil {
		return Decision{Approval: ApprovalRejected, Reasoning: "No decision made"}
	}

	d := Decision{Approval: ApprovalRequiresHuman, Confidence: 0.5, Reasoning: last.Content}
	upper := strings.ToUpper(last.Content)
	switch {
	case strings.Contains(upper, "DECISION: APPROVED"):
		d.Approval = ApprovalApproved
		if strings.Contains(upper, "CAUTION") {
			d.Approval = ApprovalApprovedWithCaution
		}
	case strings.Contains(upper, "DECISION: REJECTED"):
		d.Approval = ApprovalRejected
	}

	if m := confidencePattern.FindStringSubmatch(upper); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			d.Confidence = v
		}
	}
	return d
}

// lastMessage 返回最后一条 agent 消息；source 非空时只看该来源。
func lastMessage(events []engine.Event, source string) *engine.Event {
	for i := len(events) - 1; i >= 0; i-- {
		ev := &events[i]
		if ev.Kind != engine.KindMessage || ev.Source == engine.SourceUser {
			continue
		}
		if source == "" || ev.Source == source {
			return ev
		}
	}
	return nil
}
