package scanning

import "fmt"

const systemPrompt = "You are an expert at reading restaurant receipts. You carefully read every line of the image and never invent items."

const simplePromptTemplate = `You are analyzing a photo of a restaurant bill that will be split evenly between %d people.

1. Find the final amount due, including tax and any service charge printed on the bill.
2. Divide it by %d.

You may explain your reasoning, but finish with a JSON object in exactly this format:
{"splitAmount": 0.00}

Important:
- splitAmount must be a number (not a string) in dollars and cents
- The JSON object must be the last thing in your answer`

const itemizedPrompt = `You are analyzing a photo of a restaurant bill. Extract every line item and the final total.

Return ONLY valid JSON in this exact format:
{
  "totalAmount": "0.00",
  "items": [
    {"name": "Item name", "price": "0.00", "quantity": "1"}
  ]
}

Important:
- price is the price of a single unit, not the line total
- If no quantity is printed, use 1
- totalAmount is the final amount due, including tax
- Do not include tax, tip, subtotal or payment lines as items
- Do not use markdown code blocks`

// promptFor builds the instruction text for a request.
func promptFor(req AnalysisRequest) string {
	if req.Mode() == ModeItemized {
		return itemizedPrompt
	}
	people := req.NumPeople
	if people < 1 {
		people = 1
	}
	return fmt.Sprintf(simplePromptTemplate, people, people)
}
