package labelstudio

// Annotation field names in the doctor review label config. Verdict
// extraction looks these up by name; the order of fields inside an
// annotation result is not part of the contract.
const (
	FieldVerdict = "doctor_verdict"
	FieldComment = "comment"
)

// DoctorLabelConfig is the label schema for the doctor review project:
// a single approve/reject choice plus an optional free-text comment.
const DoctorLabelConfig = `
<View>
  <Text name="prompt" value="$prompt"/>
  <Text name="response" value="$response"/>
  <Choices name="doctor_verdict" toName="response" choice="single">
    <Choice value="approved">Approved</Choice>
    <Choice value="rejected">Rejected</Choice>
  </Choices>
  <TextArea name="comment" toName="response" placeholder="Optional comment"/>
</View>
`
