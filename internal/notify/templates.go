package notify

import (
	"strings"
)

type mailTemplate struct {
	subject string
	body    string
}

var templates = map[Action]mailTemplate{
	ActionSignupWelcome: {
		subject: "Welcome to Mini HMS!",
		body: "Hello {name},\n\n" +
			"Welcome to Mini HMS! \n" +
			"Your Account has been Successfully Created.\n\n" +
			"Best Regards,\nMini HMS Team",
	},
	ActionBookingConfirmation: {
		subject: "Appointment Confirmed",
		body: "Hello {patient_name},\n\n" +
			"Your Appointment with Dr. {doctor_name} is Confirmed.\n\n" +
			"Date: {date}\nTime: {time}\n\n" +
			"Please arrive 10 minutes early.\nMini HMS Team",
	},
	ActionBookingCancellation: {
		subject: "Appointment Cancelled",
		body: "Hello {name},\n\n" +
			"The following Appointment has been Cancelled:\n\n" +
			"Date: {date}\nTime: {time}\n\n" +
			"If this was a Mistake, Please book a New slot.\nMini HMS Team",
	},
	ActionDoctorNewBooking: {
		subject: "New Patient Appointment",
		body: "Hello Dr. {doctor_name},\n\n" +
			"You have a new Appointment booking.\n\n" +
			"Patient: {patient_name}\nDate: {date}\nTime: {time}\n",
	},
	ActionDoctorSlotCancelled: {
		subject: "Appointment Cancelled",
		body: "Hello Dr. {doctor_name},\n\n" +
			"The Appointment with {patient_name} has been Cancelled.\n\n" +
			"Date: {date}\nTime: {time}\n\n" +
			"The slot is now Open for other Patients.",
	},
}

// Email is a rendered message ready for SMTP.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Render validates msg and fills its template. Placeholders are the data keys
// in braces; keys the template does not use are ignored.
func Render(msg Message) (Email, error) {
	if err := msg.Validate(); err != nil {
		return Email{}, err
	}
	tpl := templates[msg.Action]

	pairs := make([]string, 0, len(msg.Data)*2)
	for k, v := range msg.Data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	return Email{
		To:      msg.Recipient,
		Subject: r.Replace(tpl.subject),
		Body:    r.Replace(tpl.body),
	}, nil
}
