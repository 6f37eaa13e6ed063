// Package handlers implements the per-phase logic of the consensus protocol:
// building prompts, calling models through the registry, and writing results
// back onto a DeliberationContext. Callers are responsible for driving the
// consensus.StateMachine; each handler asserts the context is already in its
// expected state.
package handlers

import (
	"strings"
	"time"
)

// groundingPrefix returns a date-stamped preamble prepended to every system
// prompt so models reason from the actual current date rather than their
// training cutoff.
func groundingPrefix(now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	date := now().UTC().Format("2006-01-02")
	return "Today's date is " + date + ". " +
		"When referencing timeframes, technologies, market conditions, or costs, " +
		"ground your answer in the current date. Use concrete, current information."
}

const proposerSystemPrompt = "You are a thoughtful expert advisor. Answer the question thoroughly, " +
	"considering multiple angles, trade-offs, and practical implications. " +
	"Be specific and concrete — cite examples, give numbers where possible, " +
	"and explain your reasoning. Do not hedge excessively or give generic advice."

const reviserSystemPrompt = "You are a thoughtful expert advisor. You gave an initial answer to a " +
	"question, and independent experts have challenged several points. " +
	"Produce an improved final answer that:\n\n" +
	"1. Addresses each valid challenge directly\n" +
	"2. Maintains your correct points with stronger justification\n" +
	"3. Incorporates new perspectives where they improve the answer\n" +
	"4. Pushes back on challenges that are wrong, explaining why\n\n" +
	"Do not mention the debate process. Just give the best possible answer."

// challengeFramings holds the system prompt for each adversarial framing.
var challengeFramings = map[string]string{
	"flaw": "You are a rigorous analyst reviewing another expert's answer. " +
		"Your role is to find factual errors, logical flaws, and oversimplifications.\n\n" +
		"CRITICAL INSTRUCTIONS:\n" +
		"- You MUST identify at least one substantive factual or logical error.\n" +
		"- DO NOT start with praise. No \"This is a good answer\" or \"I agree with most points.\"\n" +
		"- Start DIRECTLY with \"The answer gets wrong...\" or \"A factual error is...\"\n" +
		"- For each flaw: state what's wrong, why it matters, and what the correct information is.\n" +
		"- Be concrete: cite specifics, give counter-examples, provide numbers.\n\n" +
		"Your challenge will be used to improve the answer.",
	"alternative": "You are a creative strategist reviewing another expert's answer. " +
		"Your role is to propose fundamentally different approaches the answer overlooks.\n\n" +
		"CRITICAL INSTRUCTIONS:\n" +
		"- You MUST propose at least one alternative approach that could be superior.\n" +
		"- DO NOT start with praise. No \"This is a good answer.\"\n" +
		"- Start DIRECTLY with \"An alternative approach is...\" or \"The answer overlooks...\"\n" +
		"- For each alternative: explain the approach, when it's better, and its trade-offs vs the proposed solution.\n" +
		"- Think laterally: different technologies, methodologies, or framings.\n\n" +
		"Your alternatives will broaden the answer's perspective.",
	"risk": "You are a risk analyst reviewing another expert's answer. " +
		"Your role is to identify risks, failure modes, and unintended consequences.\n\n" +
		"CRITICAL INSTRUCTIONS:\n" +
		"- You MUST identify at least two concrete risks the answer doesn't adequately address.\n" +
		"- DO NOT start with praise. No \"This is a good answer.\"\n" +
		"- Start DIRECTLY with \"A critical risk is...\" or \"The answer underestimates...\"\n" +
		"- For each risk: describe the scenario, its likelihood, impact, and suggested mitigation.\n" +
		"- Consider: edge cases, scaling issues, security, dependencies, and second-order effects.\n\n" +
		"Your risk analysis will strengthen the recommendation.",
	"devils_advocate": "You are a devil's advocate reviewing another expert's answer. " +
		"Your role is to argue the strongest possible case against the recommendation.\n\n" +
		"CRITICAL INSTRUCTIONS:\n" +
		"- You MUST construct a compelling argument for why the answer's recommendation is wrong.\n" +
		"- DO NOT start with praise. No \"This is a good answer.\"\n" +
		"- Start DIRECTLY with \"I disagree because...\" or \"The recommendation fails because...\"\n" +
		"- Argue as if you genuinely believe the opposite position.\n" +
		"- Use evidence, examples, and logic to support your counter-argument.\n" +
		"- If the answer recommends X, make the strongest case for not-X.\n\n" +
		"Your counter-argument will stress-test the recommendation.",
}

// FramingOrder is the round-robin assignment order for challenge framings.
var FramingOrder = []string{"flaw", "alternative", "risk", "devils_advocate"}

// sycophancyMarkers are phrases in the opening ~200 chars of a challenge
// that indicate the challenger deferred to the proposal instead of
// genuinely challenging it.
var sycophancyMarkers = []string{
	"great answer",
	"great point",
	"good answer",
	"good point",
	"well done",
	"excellent analysis",
	"excellent answer",
	"this is a good",
	"i agree with most",
	"i largely agree",
	"no significant flaws",
	"the proposal is sound",
	"the answer is sound",
	"i agree with the",
}

// DetectSycophancy scans the opening 200 characters of a challenge for
// praise or agreement markers.
func DetectSycophancy(challengeText string) bool {
	n := len(challengeText)
	if n > 200 {
		n = 200
	}
	opening := strings.ToLower(strings.TrimSpace(challengeText[:n]))
	for _, marker := range sycophancyMarkers {
		if strings.Contains(opening, marker) {
			return true
		}
	}
	return false
}

func framingPrompt(framing string) string {
	if p, ok := challengeFramings[framing]; ok {
		return p
	}
	return challengeFramings["flaw"]
}
