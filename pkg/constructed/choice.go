package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// peekTag decodes the tag header at offset without consuming any payload,
// used to dispatch CHOICE variants purely from the opening context tag
// number.
func peekTag(buf []byte, offset int) (tagcodec.Tag, int, error) {
	return tagcodec.DecodeTag(buf, offset)
}

// expectClosing consumes a closing tag for the given context tag number,
// failing if the next tag isn't a matching closer.
func expectClosing(buf []byte, offset int, number uint8) (int, error) {
	tag, next, err := tagcodec.DecodeTag(buf, offset)
	if err != nil {
		return offset, err
	}
	if !tag.IsClosing || tag.Number != number {
		return offset, newDecodeError("expected closing tag %d, got number=%d closing=%v", number, tag.Number, tag.IsClosing)
	}
	return next, nil
}

// expectOpening consumes an opening tag for the given context tag number.
func expectOpening(buf []byte, offset int, number uint8) (int, error) {
	tag, next, err := tagcodec.DecodeTag(buf, offset)
	if err != nil {
		return offset, err
	}
	if !tag.IsOpening || tag.Number != number {
		return offset, newDecodeError("expected opening tag %d, got number=%d opening=%v", number, tag.Number, tag.IsOpening)
	}
	return next, nil
}
