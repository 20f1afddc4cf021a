package dcep

type OpenAck struct{}

func (msg OpenAck) String() string {
	return "{OpenAck}"
}

func (msg OpenAck) Bytes() []byte {
	return []byte{msgOpenAck}
}
