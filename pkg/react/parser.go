// Package react parses LLM responses written in the Thought/Action/Action
// Input/Final Answer format and renders tool results back as Observation
// text for the next turn. The parser is intentionally forgiving: it tries
// several detection strategies (exact header match, mid-line header after
// a sentence boundary, backward recovery from a dangling Action Input)
// before declaring a response malformed, since models drift from the
// exact format under pressure far more often than they abandon it
// entirely.
package react

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// ParsedResponse is the result of parsing one LLM turn.
type ParsedResponse struct {
	// Thought is the reasoning text (everything before Action or Final Answer).
	Thought string

	// Action fields, populated when the model wants to call a tool.
	HasAction   bool
	Action      string // "server.tool" form
	ActionInput string // raw argument text

	// FinalAnswer is populated when the model wants to conclude.
	IsFinalAnswer bool
	FinalAnswer   string

	// Error tracking.
	IsUnknownTool bool   // tool name isn't in "server.tool" form
	IsMalformed   bool   // response doesn't match the expected format at all
	ErrorMessage  string // feedback to hand back to the model

	// FoundSections tracks which headers were detected, for diagnostics
	// and for building targeted format-correction feedback.
	FoundSections map[string]bool
}

var (
	midlineActionPattern      = regexp.MustCompile(`[.!?][\x60\s*]*Action:`)
	midlineFinalAnswerPattern = regexp.MustCompile(`[.!?][\x60\s*]*Final Answer:`)
	midlineActionInputPattern = regexp.MustCompile(`[.!?][\x60\s*]*Action Input:`)
	toolNamePattern           = regexp.MustCompile(`^([\w\-]+)\.([\w\-]+)$`)
	recoverActionColonPattern = regexp.MustCompile(`(?i)\bAction:`)
	recoverActionWordPattern  = regexp.MustCompile(`(?i)\bAction(?:\s|$)`)
	recoverActionInputPattern = regexp.MustCompile(`(?i)Action Input:`)
)

// Parse parses text into a ParsedResponse.
func Parse(text string) *ParsedResponse {
	if text == "" {
		return &ParsedResponse{
			IsMalformed: true,
			FoundSections: map[string]bool{
				"thought": false, "action": false, "action_input": false, "final_answer": false,
			},
		}
	}

	sections := extractSections(text)

	foundSections := map[string]bool{
		"thought":      sections["thought"] != nil,
		"action":       sections["action"] != nil,
		"action_input": sections["action_input"] != nil,
		"final_answer": sections["final_answer"] != nil,
	}

	action := deref(sections["action"])
	actionInput := sections["action_input"]

	// If both Final Answer AND Action+ActionInput are present, Action wins:
	// a Final Answer should be terminal, so its presence alongside an Action
	// means the model kept going after concluding — that's the Action we
	// should act on.
	if action != "" && actionInput != nil {
		action = strings.TrimSpace(action)
		if action == "" {
			return &ParsedResponse{
				IsMalformed:   true,
				Thought:       deref(sections["thought"]),
				FoundSections: foundSections,
			}
		}

		if !strings.Contains(action, ".") {
			return &ParsedResponse{
				IsUnknownTool: true,
				HasAction:     true,
				Thought:       deref(sections["thought"]),
				Action:        action,
				ActionInput:   deref(actionInput),
				ErrorMessage: fmt.Sprintf(
					"Unknown tool '%s'. Tools must be in 'server.tool' format. "+
						"Please check the list of available tools provided in the prompt.", action),
				FoundSections: foundSections,
			}
		}

		return &ParsedResponse{
			HasAction:     true,
			Thought:       deref(sections["thought"]),
			Action:        action,
			ActionInput:   deref(actionInput),
			FoundSections: foundSections,
		}
	}

	if sections["final_answer"] != nil && deref(sections["final_answer"]) != "" {
		return &ParsedResponse{
			IsFinalAnswer: true,
			Thought:       deref(sections["thought"]),
			FinalAnswer:   deref(sections["final_answer"]),
			FoundSections: foundSections,
		}
	}

	return &ParsedResponse{
		IsMalformed:   true,
		Thought:       deref(sections["thought"]),
		FoundSections: foundSections,
	}
}

// extractSections runs the line-by-line section-extraction state machine.
func extractSections(text string) map[string]*string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	parsed := map[string]*string{
		"thought": nil, "action": nil, "action_input": nil, "final_answer": nil,
	}

	var currentSection string
	var contentLines []string
	foundSections := map[string]bool{}

	for _, rawLine := range lines {
		line := strings.TrimSpace(rawLine)

		if line == "" && currentSection == "" {
			continue
		}

		if shouldStopParsing(line) {
			finalizeSection(parsed, currentSection, contentLines)
			break
		}

		switch {
		case isSectionHeader(line, "final_answer", foundSections):
			if currentSection == "thought" && hasMidlineFinalAnswer(line) {
				if loc := midlineFinalAnswerPattern.FindStringIndex(line); loc != nil {
					if thoughtBefore := strings.TrimSpace(line[:loc[0]+1]); thoughtBefore != "" {
						contentLines = append(contentLines, thoughtBefore)
					}
				}
			}
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "final_answer"
			foundSections["final_answer"] = true
			contentLines = []string{extractSectionContent(line, "Final Answer:")}

		case isSectionHeader(line, "thought", foundSections):
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "thought"
			foundSections["thought"] = true

			if strings.HasPrefix(line, "Thought:") {
				thoughtContent := extractSectionContent(line, "Thought:")

				switch {
				case hasMidlineFinalAnswer(thoughtContent):
					loc := midlineFinalAnswerPattern.FindStringIndex(thoughtContent)
					if loc != nil {
						thoughtBefore := strings.TrimSpace(thoughtContent[:loc[0]+1])
						setSection(parsed, "thought", thoughtBefore)
						remaining := strings.TrimSpace(thoughtContent[loc[0]+1:])
						if idx := strings.Index(remaining, "Final Answer:"); idx != -1 {
							fa := strings.TrimSpace(remaining[idx+len("Final Answer:"):])
							setSection(parsed, "final_answer", fa)
							foundSections["final_answer"] = true
						}
						currentSection = "final_answer"
						contentLines = []string{deref(parsed["final_answer"])}
					} else {
						contentLines = []string{thoughtContent}
					}
				case hasMidlineAction(thoughtContent):
					loc := midlineActionPattern.FindStringIndex(thoughtContent)
					if loc != nil {
						thoughtBefore := strings.TrimSpace(thoughtContent[:loc[0]+1])
						setSection(parsed, "thought", thoughtBefore)
						remaining := strings.TrimSpace(thoughtContent[loc[0]+1:])
						if idx := strings.Index(remaining, "Action:"); idx != -1 {
							actionVal := strings.TrimSpace(remaining[idx+len("Action:"):])
							setSection(parsed, "action", actionVal)
							foundSections["action"] = true
						}
						currentSection = ""
						contentLines = nil
					} else {
						contentLines = []string{thoughtContent}
					}
				default:
					contentLines = []string{thoughtContent}
				}
			} else {
				contentLines = []string{}
			}

		case isSectionHeader(line, "action", foundSections):
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "action"
			foundSections["action"] = true
			delete(foundSections, "action_input")
			contentLines = []string{extractSectionContent(line, "Action:")}

		case isSectionHeader(line, "action_input", foundSections):
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "action_input"
			foundSections["action_input"] = true
			contentLines = []string{extractSectionContent(line, "Action Input:")}

		default:
			if currentSection == "" {
				continue
			}
			if currentSection == "thought" && hasMidlineFinalAnswer(line) {
				loc := midlineFinalAnswerPattern.FindStringIndex(line)
				if loc != nil {
					if thoughtBefore := strings.TrimSpace(line[:loc[0]+1]); thoughtBefore != "" {
						contentLines = append(contentLines, thoughtBefore)
					}
					finalizeSection(parsed, currentSection, contentLines)
					remaining := strings.TrimSpace(line[loc[0]+1:])
					if idx := strings.Index(remaining, "Final Answer:"); idx != -1 {
						fa := strings.TrimSpace(remaining[idx+len("Final Answer:"):])
						setSection(parsed, "final_answer", fa)
						foundSections["final_answer"] = true
						currentSection = "final_answer"
						contentLines = []string{deref(parsed["final_answer"])}
					}
				} else {
					contentLines = append(contentLines, line)
				}
			} else {
				contentLines = append(contentLines, line)
			}
		}
	}

	finalizeSection(parsed, currentSection, contentLines)

	if parsed["action_input"] != nil && parsed["action"] == nil {
		if recovered := recoverMissingAction(text); recovered != "" {
			setSection(parsed, "action", recovered)
		}
	}

	return parsed
}

func isSectionHeader(line string, sectionType string, foundSections map[string]bool) bool {
	if line == "" {
		return false
	}

	if sectionType == "final_answer" && foundSections["final_answer"] {
		return false
	}

	switch sectionType {
	case "thought":
		if strings.HasPrefix(line, "Thought:") || line == "Thought" {
			return true
		}
	case "action":
		if strings.HasPrefix(line, "Action:") {
			return true
		}
	case "action_input":
		if strings.HasPrefix(line, "Action Input:") {
			return true
		}
	case "final_answer":
		if strings.HasPrefix(line, "Final Answer:") {
			return true
		}
	}

	if sectionType == "final_answer" {
		// "Thought " (space, no colon) is included deliberately: it prevents
		// a false positive on a line like "Thought something. Final Answer: ..."
		if strings.HasPrefix(line, "Thought:") || line == "Thought" ||
			strings.HasPrefix(line, "Thought ") ||
			strings.HasPrefix(line, "Action:") || strings.HasPrefix(line, "Action Input:") {
			return false
		}
		if strings.Contains(line, "Final Answer:") && midlineFinalAnswerPattern.MatchString(line) {
			return true
		}
		return false
	}

	if sectionType == "action" && strings.Contains(line, "Action:") {
		if midlineActionPattern.MatchString(line) {
			return true
		}
	}

	if sectionType == "action_input" && strings.Contains(line, "Action Input:") {
		if foundSections["action"] && midlineActionInputPattern.MatchString(line) {
			return true
		}
	}

	return false
}

func shouldStopParsing(line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "[Based on") {
		return true
	}
	if strings.HasPrefix(line, "Observation:") {
		if strings.Contains(line, "Please specify") || strings.Contains(line, "what Action you want to take") {
			return false
		}
		if strings.Contains(line, "Error in reasoning") {
			return false
		}
		return true
	}
	return false
}

func hasMidlineAction(text string) bool {
	if text == "" || !strings.Contains(text, "Action:") {
		return false
	}
	return midlineActionPattern.MatchString(text)
}

func hasMidlineFinalAnswer(text string) bool {
	if text == "" || !strings.Contains(text, "Final Answer:") {
		return false
	}
	return midlineFinalAnswerPattern.MatchString(text)
}

func extractSectionContent(line, prefix string) string {
	idx := strings.Index(line, prefix)
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(line[idx+len(prefix):])
}

func finalizeSection(parsed map[string]*string, section string, contentLines []string) {
	if section == "" || contentLines == nil {
		return
	}
	content := strings.TrimSpace(strings.Join(contentLines, "\n"))
	if content != "" || parsed[section] == nil {
		parsed[section] = &content
	}
}

func setSection(parsed map[string]*string, section, value string) {
	parsed[section] = &value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// recoverMissingAction searches backwards from a dangling "Action Input:"
// for a tool name the section parser missed: one after an "Action:" (or
// bare "Action") header, else a bare "server.tool" line directly before
// "Action Input:" with no header at all.
func recoverMissingAction(response string) string {
	loc := recoverActionInputPattern.FindStringIndex(response)
	if loc == nil {
		return ""
	}

	textBefore := response[:loc[0]]

	if matches := recoverActionColonPattern.FindAllStringIndex(textBefore, -1); len(matches) > 0 {
		lastMatch := matches[len(matches)-1]
		if validated := validateToolName(strings.TrimSpace(textBefore[lastMatch[1]:])); validated != "" {
			return validated
		}
	}

	if matches := recoverActionWordPattern.FindAllStringIndex(textBefore, -1); len(matches) > 0 {
		lastMatch := matches[len(matches)-1]
		if validated := validateToolName(strings.TrimSpace(textBefore[lastMatch[1]:])); validated != "" {
			return validated
		}
	}

	beforeLines := strings.Split(strings.TrimSpace(textBefore), "\n")
	return validateToolName(strings.TrimSpace(beforeLines[len(beforeLines)-1]))
}

func validateToolName(text string) string {
	if text == "" {
		return ""
	}
	firstLine := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if toolNamePattern.MatchString(firstLine) {
		return firstLine
	}
	return ""
}

// FormatErrorFeedback builds a targeted description of what's wrong with
// a malformed response, appended to the next observation so the model can
// self-correct instead of repeating the same mistake.
func FormatErrorFeedback(parsed *ParsedResponse) string {
	found := parsed.FoundSections
	hasThought := found["thought"]
	hasAction := found["action"]
	hasActionInput := found["action_input"]
	hasFinalAnswer := found["final_answer"]

	var specificError string
	switch {
	case hasAction && !hasActionInput:
		specificError = "FORMAT ERROR: Your response has \"Action:\" but is missing \"Action Input:\".\n" +
			"Every \"Action:\" MUST be followed by \"Action Input:\" (even if empty for no-parameter tools)."
	case hasActionInput && !hasAction:
		specificError = "FORMAT ERROR: Your response has \"Action Input:\" but is missing \"Action:\".\n" +
			"\"Action Input:\" must be preceded by \"Action:\" specifying which tool to call."
	case hasThought && !hasAction && !hasFinalAnswer:
		specificError = "FORMAT ERROR: Your response only contains \"Thought:\".\n" +
			"After reasoning, you MUST either:\n" +
			"- Call a tool with \"Action:\" + \"Action Input:\", OR\n" +
			"- Conclude with \"Final Answer:\""
	case !hasThought && !hasAction && !hasFinalAnswer:
		specificError = "FORMAT ERROR: Could not detect any expected sections in your response.\n" +
			"Your response must use the exact format: \"Thought:\", \"Action:\", \"Action Input:\", or \"Final Answer:\""
	default:
		keys := []string{"thought", "action", "action_input", "final_answer"}
		var foundList, missingList []string
		for _, k := range keys {
			if found[k] {
				foundList = append(foundList, k)
			} else {
				missingList = append(missingList, k)
			}
		}
		specificError = fmt.Sprintf("FORMAT ERROR: Incomplete response format.\nFound: %s\nMissing: %s",
			strings.Join(foundList, ", "), strings.Join(missingList, ", "))
	}

	return specificError + "\n" + FormatCorrectionReminder()
}

// FormatCorrectionReminder returns the general format reminder appended to
// every format-error observation.
func FormatCorrectionReminder() string {
	return `IMPORTANT: Please follow the exact format:

1. Use colons: "Thought:", "Action:", "Action Input:", "Final Answer:"
2. Start each section on a NEW LINE (never continue on the same line as previous text)
3. Stop after Action Input - the system provides Observations
4. Your response MUST include EITHER tool calling (Action + Action Input) OR Final Answer

Required structure to continue investigating:
Thought: [your reasoning]
Action: [tool name]
Action Input: [parameters]

For tools with no parameters (keep Action Input empty):
Thought: [your reasoning]
Action: [tool name]
Action Input:

Required structure to conclude:
Thought: [final reasoning]
Final Answer: [complete analysis]`
}

// FormatObservation formats a tool's result as an Observation for the next turn.
func FormatObservation(toolName string, result tool.Result) string {
	if !result.Success {
		return fmt.Sprintf("Observation: Error executing %s: %s", toolName, result.Error)
	}
	return fmt.Sprintf("Observation: %v", result.Data)
}

// FormatToolErrorObservation formats a tool-execution error as an Observation.
func FormatToolErrorObservation(err error) string {
	if err == nil {
		return "Observation: Error - Tool execution failed: unknown error"
	}
	return fmt.Sprintf("Observation: Error - Tool execution failed: %s", err.Error())
}

// FormatUnknownToolError formats an Observation for a requested tool that
// isn't registered, listing the tools that are so the model can self-correct.
func FormatUnknownToolError(errorMsg string, availableTools []tool.Definition) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Observation: Error - %s", errorMsg))
	if len(availableTools) > 0 {
		sb.WriteString("\n\nAvailable tools:\n")
		for _, t := range availableTools {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", t.Name, t.Description))
		}
	} else {
		sb.WriteString("\n\nNo tools are currently available.")
	}
	return sb.String()
}

// FormatRepeatedFailureNotice is appended to an observation once the same
// tool call has failed several times in a row with identical input,
// steering the model toward a different tool (or toward concluding)
// instead of repeating a call that is not going to start working.
func FormatRepeatedFailureNotice(toolName string, availableTools []tool.Definition) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("NOTE: %s has now failed several times in a row with the same input. "+
		"Do not repeat this exact call. Try a different tool, different arguments, "+
		"or conclude with what you have.", toolName))
	if len(availableTools) > 0 {
		sb.WriteString("\n\nOther available tools:\n")
		for _, t := range availableTools {
			if t.Name == toolName {
				continue
			}
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", t.Name, t.Description))
		}
	}
	return sb.String()
}

// FormatErrorObservation formats an LLM call error as an Observation.
func FormatErrorObservation(err error) string {
	if err == nil {
		return "Observation: Error from previous attempt: unknown error. Please try again."
	}
	return fmt.Sprintf("Observation: Error from previous attempt: %s. Please try again.", err.Error())
}

// ExtractForcedConclusionAnswer extracts an answer from a response the
// loop forced to conclude after hitting its iteration limit: prefers the
// parsed Final Answer, falls back to the thought text, then to nothing.
func ExtractForcedConclusionAnswer(parsed *ParsedResponse) string {
	if parsed.IsFinalAnswer && parsed.FinalAnswer != "" {
		return parsed.FinalAnswer
	}
	if parsed.Thought != "" {
		return parsed.Thought
	}
	return ""
}
