package research

import "fmt"

// Speakers of an interview, recorded in model.Message.Name.
const (
	speakerAnalyst = "analyst"
	speakerExpert  = "expert"
)

// terminationPhrase ends an interview when the analyst says it.
const terminationPhrase = "Thank you so much for your help"

func analystInstructions(topic, feedback string, maxAnalysts int) string {
	return fmt.Sprintf(`You are tasked with creating a set of AI analyst personas.
Review the research topic: %s
Review any editorial feedback that should guide the analysts: %s
Identify the %d most interesting themes of the topic and assign one analyst to each theme.`,
		topic, feedback, maxAnalysts)
}

func openingMessage(topic string) string {
	return fmt.Sprintf("So you said you were writing an article on %s?", topic)
}

func questionInstructions(persona string) string {
	return fmt.Sprintf(`You are an analyst interviewing an expert to learn about a specific topic.
Your goal is to collect interesting and specific insights related to your focus.
Your topic and goals:
%s
Begin by introducing yourself with a name that fits your persona, then ask your question.
Keep drilling down to refine your understanding.
When you are satisfied with your understanding, end the interview with: "%s!"
Stay in character throughout your response.`, persona, terminationPhrase)
}

const (
	webQueryInstructions  = "Generate a concise web search query. Return ONLY the query string."
	wikiQueryInstructions = "Generate a concise Wikipedia search term. Return ONLY the term."
)

func answerInstructions(persona, context string) string {
	return fmt.Sprintf(`You are an expert being interviewed by an analyst.
The analyst's area of focus:
%s
Answer the question using ONLY this context:
%s
Do not introduce outside information. Cite the sources you use like [1] next to the relevant statements and list the sources at the bottom of your answer.`, persona, context)
}

func sectionInstructions(focus string) string {
	return fmt.Sprintf(`You are an expert technical writer.
Write one section of a report based strictly on the provided source documents.

Target audience: executives and technical leads.
Tone: professional, data-driven, concise.

1. Identify the key statistics, dates, quotes and technical details in the sources.
2. Summarize them in factual language. Mention conflicting facts when sources disagree.
3. Open with a sentence that states the main insight, use bullet points for lists, and stay under about 300 words.

Title: %s`, focus)
}

func reportInstructions(topic, memos string) string {
	return fmt.Sprintf(`You are the lead research editor compiling a final report on: %[1]s

You have received memos from a team of analysts. Each memo contains insights and a list of "Raw Sources".
Synthesize them into one cohesive narrative instead of repeating the memos one by one:
- Group related insights from different analysts into shared themes.
- When analysts disagree, present the range of estimates.
- Cite statements with [1], [2], ... using the raw sources; every claim needs a citation.

Output structure:
# %[1]s

## Executive Summary
(three sentences)

## Key Insights
(thematic subsections; never use analyst names as headers)

## Sources
(the unique URLs from the memos, numbered [1], [2], ...)

Memos:
%[2]s`, topic, memos)
}

func introConclusionInstructions(topic, sections string) string {
	return fmt.Sprintf(`You are a technical writer finishing a report on %s.
Write a crisp introduction or conclusion as requested, using the header ## Introduction or ## Conclusion.
Base it on these report sections:
%s`, topic, sections)
}
